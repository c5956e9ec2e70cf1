// Package qaf turns a QA Framework job setup into the ordered qacli
// invocations a build runs, and runs them through a dispatcher.
package qaf

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Upload source code modes understood by qacli.
const (
	UploadSourceNone     = "NONE"
	UploadSourceAll      = "ALL"
	UploadSourceNotInVCS = "NOT_IN_VCS"
)

// Report types.
const (
	ReportCRR = "CRR" // compliance report
	ReportMDR = "MDR" // metrics data report
	ReportSUP = "SUP" // suppression report
)

// Installation is a configured QA Framework install.
type Installation struct {
	Name       string `yaml:"-"`
	Executable string `yaml:"executable"`     // qacli path; derived from Home when empty
	Home       string `yaml:"home,omitempty"` // install root
}

// Server is a QA Verify server results can be uploaded to.
type Server struct {
	Name     string `yaml:"-"`
	URL      string `yaml:"url" validate:"required,url"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password,omitempty"` // literal or "env:VAR_NAME", resolved by config
}

// Setup is the per-job QA Framework configuration.
type Setup struct {
	Installation string `yaml:"installation" validate:"required"`
	Project      string `yaml:"project" validate:"required"`

	UseCustomLicenseServer bool   `yaml:"use_custom_license_server,omitempty"`
	CustomLicenseServer    string `yaml:"custom_license_server,omitempty" validate:"omitempty,licenseserver"`

	DownloadUnifiedProject bool   `yaml:"download_unified_project,omitempty"`
	UnifiedProjectName     string `yaml:"unified_project_name,omitempty" validate:"omitempty,qaname"`

	PerformCrossModuleAnalysis bool   `yaml:"cross_module_analysis,omitempty"`
	CMAProjectName             string `yaml:"cma_project_name,omitempty" validate:"omitempty,cmaname"`
	EnableDependencyMode       bool   `yaml:"dependency_mode,omitempty"`

	AnalysisSettings              bool `yaml:"analysis_settings,omitempty"`
	StopWhenFail                  bool `yaml:"stop_when_fail,omitempty"`
	GeneratePreprocess            bool `yaml:"generate_preprocess,omitempty"`
	AssembleSupportAnalytics      bool `yaml:"assemble_support_analytics,omitempty"`
	GenerateReportOnAnalysisError bool `yaml:"generate_report_on_analysis_error,omitempty"`

	GenerateReport bool `yaml:"generate_report,omitempty"`
	GenerateCRR    bool `yaml:"generate_crr,omitempty"`
	GenerateMDR    bool `yaml:"generate_mdr,omitempty"`
	GenerateSUP    bool `yaml:"generate_sup,omitempty"`

	PublishToQAV        bool     `yaml:"publish_to_qav,omitempty"`
	LoginToQAV          bool     `yaml:"login_to_qav,omitempty"` // check credentials on every server before analysis
	Servers             []string `yaml:"servers,omitempty" validate:"dive,required"`
	UploadWhenStable    bool     `yaml:"upload_when_stable,omitempty"`
	QAVerifyProjectName string   `yaml:"qav_project_name,omitempty" validate:"omitempty,qaname"`
	SnapshotName        string   `yaml:"snapshot_name,omitempty" validate:"omitempty,qaname"`
	BuildNumber         string   `yaml:"build_number,omitempty"`
	UploadSourceCode    string   `yaml:"upload_source_code,omitempty" validate:"omitempty,oneof=NONE ALL NOT_IN_VCS"`
}

var (
	licenseServerRe = regexp.MustCompile(`^(\d{1,5})@(.+)$`)
	qaNameRe        = regexp.MustCompile(`^[a-zA-Z0-9_\-{}()$%]+$`)
	cmaNameRe       = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// validate is a package-level singleton; building a validator is expensive.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	mustRegister(v, "licenseserver", licenseServerRe)
	mustRegister(v, "qaname", qaNameRe)
	mustRegister(v, "cmaname", cmaNameRe)
	v.RegisterStructValidation(setupStructLevel, Setup{})
	return v
}

func mustRegister(v *validator.Validate, tag string, re *regexp.Regexp) {
	if err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	}); err != nil {
		panic(fmt.Sprintf("register %s validation: %v", tag, err))
	}
}

// setupStructLevel enforces fields that are required only when a feature is on.
func setupStructLevel(sl validator.StructLevel) {
	s := sl.Current().Interface().(Setup)
	if s.UseCustomLicenseServer && s.CustomLicenseServer == "" {
		sl.ReportError(s.CustomLicenseServer, "custom_license_server", "CustomLicenseServer", "required_with_license", "")
	}
	if s.DownloadUnifiedProject && s.UnifiedProjectName == "" {
		sl.ReportError(s.UnifiedProjectName, "unified_project_name", "UnifiedProjectName", "required_with_unified", "")
	}
	if s.PerformCrossModuleAnalysis && s.CMAProjectName == "" {
		sl.ReportError(s.CMAProjectName, "cma_project_name", "CMAProjectName", "required_with_cma", "")
	}
	if s.PublishToQAV {
		if len(s.Servers) == 0 {
			sl.ReportError(s.Servers, "servers", "Servers", "required_with_publish", "")
		}
		if s.QAVerifyProjectName == "" {
			sl.ReportError(s.QAVerifyProjectName, "qav_project_name", "QAVerifyProjectName", "required_with_publish", "")
		}
		if s.SnapshotName == "" {
			sl.ReportError(s.SnapshotName, "snapshot_name", "SnapshotName", "required_with_publish", "")
		}
	}
	if s.LoginToQAV && !s.PublishToQAV && len(s.Servers) == 0 {
		sl.ReportError(s.Servers, "servers", "Servers", "required_with_login", "")
	}
	if s.GenerateReport && !s.GenerateCRR && !s.GenerateMDR && !s.GenerateSUP {
		sl.ReportError(s.GenerateReport, "generate_report", "GenerateReport", "report_type", "")
	}
}

// stopsOnFailure reports whether a failed analysis stops the build.
// Both options only apply with AnalysisSettings on.
func (s Setup) stopsOnFailure() bool {
	return s.AnalysisSettings && s.StopWhenFail
}

func (s Setup) reportsOnAnalysisError() bool {
	return s.AnalysisSettings && s.GenerateReportOnAnalysisError
}

// Validate checks s and returns a readable error listing every invalid field.
func (s Setup) Validate() error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate setup: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("field %s: %s", fe.Field(), describe(fe)))
	}
	return fmt.Errorf("invalid setup: %s", strings.Join(msgs, "; "))
}

// ValidateServer checks a QA Verify server entry.
func ValidateServer(s Server) error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("server %q: %w", s.Name, err)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "must not be empty"
	case "licenseserver":
		return "license server format must be <port>@<host>"
	case "qaname":
		return "invalid name [characters allowed: a-zA-Z0-9-_{}()$%]"
	case "cmaname":
		return "invalid CMA project name [characters allowed: a-zA-Z0-9-_]"
	case "oneof":
		return "must be one of " + fe.Param()
	case "required_with_license":
		return "required when a custom license server is used"
	case "required_with_unified":
		return "required when downloading a unified project definition"
	case "required_with_cma":
		return "required when cross-module analysis is enabled"
	case "required_with_publish":
		return "required when publishing to QA Verify"
	case "required_with_login":
		return "required when logging in to QA Verify"
	case "report_type":
		return "select at least one of CRR, MDR, SUP"
	default:
		return "failed " + fe.Tag()
	}
}

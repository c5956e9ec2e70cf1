package qaf

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ppiankov/qaforge/internal/analysis"
)

// Phase groups steps for the pipeline's skip rules.
type Phase int

const (
	PhaseSetup Phase = iota
	PhaseAnalysis
	PhaseReport
	PhaseUpload
)

func (p Phase) String() string {
	switch p {
	case PhaseSetup:
		return "setup"
	case PhaseAnalysis:
		return "analysis"
	case PhaseReport:
		return "report"
	case PhaseUpload:
		return "upload"
	default:
		return "unknown"
	}
}

// Step is one qacli invocation of a job.
type Step struct {
	Name       string
	Phase      Phase
	Descriptor analysis.Descriptor
}

// String renders the step's command line with secrets masked.
func (s Step) String() string {
	return s.Descriptor.Product + " " + strings.Join(Redact(s.Descriptor.Args), " ")
}

const buildNumberVar = "${BUILD_NUMBER}"

// ExecutablePath returns the qacli path for an installation.
func (i Installation) ExecutablePath() string {
	if i.Executable != "" {
		return i.Executable
	}
	if i.Home != "" {
		return filepath.Join(i.Home, "common", "bin", "qacli")
	}
	return "qacli"
}

// Plan turns s into the ordered steps of a build.
// servers maps server names referenced by s.Servers to their configuration.
func Plan(s Setup, inst Installation, servers map[string]Server) ([]Step, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	product := inst.ExecutablePath()
	step := func(name string, phase Phase, args ...string) Step {
		return Step{Name: name, Phase: phase, Descriptor: analysis.NewDescriptor(product, args...)}
	}

	var steps []Step

	if s.UseCustomLicenseServer {
		steps = append(steps, step("license", PhaseSetup, "admin", "--set-license-server", s.CustomLicenseServer))
	}

	var targets []Server
	if s.PublishToQAV || s.DownloadUnifiedProject || s.LoginToQAV {
		for _, name := range s.Servers {
			srv, ok := servers[name]
			if !ok {
				return nil, fmt.Errorf("unknown QA Verify server %q", name)
			}
			if srv.Name == "" {
				srv.Name = name
			}
			targets = append(targets, srv)
		}
	}

	if s.LoginToQAV {
		for _, srv := range targets {
			steps = append(steps, step("login-"+srv.Name, PhaseSetup,
				"admin", "--qaverify-login",
				"--url", srv.URL, "--username", srv.User, "--password", srv.Password))
		}
	}

	if s.DownloadUnifiedProject {
		if len(targets) == 0 {
			return nil, fmt.Errorf("download of unified project %q needs a QA Verify server", s.UnifiedProjectName)
		}
		srv := targets[0]
		steps = append(steps, step("download-unified", PhaseSetup,
			"vcs", "-P", s.Project,
			"--download-unified-project", s.UnifiedProjectName,
			"--url", srv.URL, "--username", srv.User, "--password", srv.Password))
	}

	analyze := []string{"analyze", "-P", s.Project}
	if s.EnableDependencyMode {
		analyze = append(analyze, "-f")
	} else {
		analyze = append(analyze, "-cf")
	}
	if s.AnalysisSettings {
		if s.StopWhenFail {
			analyze = append(analyze, "--stop-on-fail")
		}
		if s.GeneratePreprocess {
			analyze = append(analyze, "--generate-preprocessed-source")
		}
		if s.AssembleSupportAnalytics {
			analyze = append(analyze, "--assemble-support-analytics")
		}
	}
	steps = append(steps, step("analyze", PhaseAnalysis, analyze...))

	if s.PerformCrossModuleAnalysis {
		steps = append(steps, step("cma", PhaseAnalysis, "analyze", "-P", s.Project, "-p", "--cma-project-name", s.CMAProjectName))
	}

	if s.GenerateReport {
		for _, r := range []struct {
			on  bool
			typ string
		}{{s.GenerateCRR, ReportCRR}, {s.GenerateMDR, ReportMDR}, {s.GenerateSUP, ReportSUP}} {
			if r.on {
				steps = append(steps, step("report-"+strings.ToLower(r.typ), PhaseReport, "report", "-P", s.Project, "-t", r.typ))
			}
		}
	}

	if s.PublishToQAV {
		source := s.UploadSourceCode
		if source == "" {
			source = UploadSourceNone
		}
		snapshot := strings.ReplaceAll(s.SnapshotName, buildNumberVar, s.BuildNumber)
		for _, srv := range targets {
			steps = append(steps, step("upload-"+srv.Name, PhaseUpload,
				"upload", "-P", s.Project, "--qav",
				"--url", srv.URL, "--username", srv.User, "--password", srv.Password,
				"--upload-project", s.QAVerifyProjectName,
				"--snapshot-name", snapshot,
				"--upload-source", source))
		}
	}

	return steps, nil
}

// Redact returns a copy of args with the value after --password masked.
func Redact(args []string) []string {
	out := append([]string(nil), args...)
	for i := 0; i < len(out)-1; i++ {
		if out[i] == "--password" {
			out[i+1] = "****"
			i++
		}
	}
	return out
}

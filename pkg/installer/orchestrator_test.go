package installer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/flanksource/toolchain/mock"
	"github.com/flanksource/toolchain/pkg/config"
	"github.com/flanksource/toolchain/pkg/detect"
	"github.com/flanksource/toolchain/pkg/platform"
	"github.com/flanksource/toolchain/pkg/types"
)

type events struct {
	mu   sync.Mutex
	list []types.InstallationProgress
}

func (e *events) report(p types.InstallationProgress) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.list = append(e.list, p)
}

func (e *events) all() []types.InstallationProgress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]types.InstallationProgress(nil), e.list...)
}

func (e *events) last() types.InstallationProgress {
	all := e.all()
	Expect(all).NotTo(BeEmpty())
	return all[len(all)-1]
}

const nodeIndex = `[
  {"version":"v21.1.0","date":"2023-10-24","files":["win-x64-msi"],"lts":false},
  {"version":"v20.11.0","date":"2024-01-09","files":["win-x64-msi"],"lts":"Iron"},
  {"version":"v18.19.0","date":"2023-11-29","files":["win-x64-msi"],"lts":"Hydrogen"}
]`

const npmPackage = `{
  "name": "@anthropic-ai/claude-code",
  "dist-tags": {"latest": "1.0.5"},
  "versions": {
    "1.0.4": {"dist": {"tarball": "https://example.invalid/1.0.4.tgz", "unpackedSize": 2000}},
    "1.0.5": {"dist": {"tarball": "https://example.invalid/1.0.5.tgz", "unpackedSize": 4000}}
  }
}`

var windows = platform.Platform{OS: "windows", Arch: "amd64"}
var linux = platform.Platform{OS: "linux", Arch: "amd64"}

func writeBinary(dir, name string) {
	Expect(os.MkdirAll(dir, 0o755)).To(Succeed())
	Expect(os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"), 0o755)).To(Succeed())
}

var _ = Describe("Orchestrator", func() {
	var (
		root     string
		bin      string
		server   *httptest.Server
		requests []string
		shasums  string
		cfg      *config.Config
		exec     *mock.Executor
		runner   *mock.Executor
		progress *events
		lookPath func(string) (string, error)
	)

	BeforeEach(func() {
		root = GinkgoT().TempDir()
		bin = filepath.Join(root, "bin")
		Expect(os.MkdirAll(bin, 0o755)).To(Succeed())
		requests = nil
		shasums = ""

		mux := http.NewServeMux()
		mux.HandleFunc("/dist/index.json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(nodeIndex))
		})
		mux.HandleFunc("/dist/", func(w http.ResponseWriter, r *http.Request) {
			requests = append(requests, r.URL.Path)
			if strings.Contains(r.URL.Path, "missing") {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write([]byte(strings.Repeat("x", 4096)))
		})
		mux.HandleFunc("/sums/", func(w http.ResponseWriter, r *http.Request) {
			if shasums == "" {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write([]byte(shasums))
		})
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			if strings.Contains(r.URL.Path, "claude-code") {
				_, _ = w.Write([]byte(npmPackage))
				return
			}
			http.NotFound(w, r)
		})
		server = httptest.NewServer(mux)
		DeferCleanup(server.Close)

		var err error
		cfg, err = config.LoadDefaultConfig()
		Expect(err).NotTo(HaveOccurred())
		node := cfg.Tools[types.ToolNode]
		node.PlatformPackageMap = map[string]types.PackageSpec{
			"windows": {
				Method:        MethodMsi,
				VersionsURL:   server.URL + "/dist/index.json",
				URLTemplate:   server.URL + "/dist/v{{.version}}/node-v{{.version}}-{{.nodeArch}}.msi",
				EstimatedSize: 1024,
			},
		}
		cfg.Tools[types.ToolNode] = node
		claude := cfg.Tools[types.ToolAssistant]
		claude.PlatformPackageMap = map[string]types.PackageSpec{
			"*": {Method: MethodNpm, NpmPackage: "@anthropic-ai/claude-code", VersionsURL: server.URL},
		}
		cfg.Tools[types.ToolAssistant] = claude

		exec = mock.NewExecutor().Unwrap("sudo", "-n")
		runner = mock.NewExecutor()
		progress = &events{}
		lookPath = func(name string) (string, error) { return "", errors.New("not found") }
	})

	newOrchestrator := func(p platform.Platform, opts ...Option) *Orchestrator {
		base := []Option{
			WithPlatform(p),
			WithExecutor(exec),
			WithLookPath(func(name string) (string, error) { return lookPath(name) }),
			WithDetectorOptions(
				detect.WithRunner(runner),
				detect.WithHome(filepath.Join(root, "home")),
				detect.WithSearchPath(bin),
				detect.WithExtraDirs(),
			),
			WithFreeSpace(func(string) (int64, error) { return 1 << 40, nil }),
			WithElevationProbe(func(platform.Platform) bool { return false }),
			WithDefaults(WithTmpDir(filepath.Join(root, "tmp")), WithUserLocalRoot(filepath.Join(root, "local"))),
		}
		return New(cfg, nil, append(base, opts...)...)
	}

	installNodeMsi := func() {
		exec.Handle("msiexec", func(args []string) (string, error) {
			writeBinary(bin, "node.exe")
			runner.Set("node.exe --version", "v20.11.0")
			return "", nil
		})
	}

	Context("node on windows", func() {
		It("downloads and installs the latest LTS msi", func() {
			installNodeMsi()
			exec.Handle("npm", func([]string) (string, error) { return "10.2.4", nil })

			result := newOrchestrator(windows).Install(context.Background(), types.ToolNode, "", progress.report)

			Expect(result.Error).To(BeEmpty())
			Expect(result.Success).To(BeTrue())
			Expect(result.Skipped).To(BeFalse())
			Expect(result.InstalledVersion).To(Equal("20.11.0"))
			Expect(result.ExecutablePath).To(Equal(filepath.Join(bin, "node.exe")))
			Expect(result.Requirements).NotTo(BeNil())
			Expect(result.Requirements.DiskSpaceRequired).To(BeNumerically("==", 1228))
			Expect(requests).To(ConsistOf("/dist/v20.11.0/node-v20.11.0-x64.msi"))

			calls := exec.Calls()
			Expect(calls).To(HaveLen(2))
			Expect(calls[0]).To(HavePrefix("msiexec /i "))
			Expect(calls[0]).To(HaveSuffix("node-v20.11.0-x64.msi /qn /norestart"))
			Expect(calls[1]).To(Equal("npm --version"))
		})

		It("reports forward-only, non-decreasing progress ending at 100", func() {
			installNodeMsi()

			result := newOrchestrator(windows).Install(context.Background(), types.ToolNode, "20", progress.report)
			Expect(result.Success).To(BeTrue())

			all := progress.all()
			percent, order := 0, 0
			for _, p := range all {
				Expect(p.Percent).To(BeNumerically(">=", percent))
				Expect(p.Stage.Order()).To(BeNumerically(">=", order))
				percent, order = p.Percent, p.Stage.Order()
			}
			Expect(progress.last().Stage).To(Equal(types.StageCompleted))
			Expect(progress.last().Percent).To(Equal(100))
		})

		It("removes the downloaded artifact afterwards", func() {
			installNodeMsi()
			result := newOrchestrator(windows).Install(context.Background(), types.ToolNode, "", nil)
			Expect(result.Success).To(BeTrue())

			matches, err := filepath.Glob(filepath.Join(root, "tmp", "toolchain-downloads", "*", "*.msi"))
			Expect(err).NotTo(HaveOccurred())
			Expect(matches).To(BeEmpty())
		})

		It("keeps downloads when asked", func() {
			installNodeMsi()
			result := newOrchestrator(windows).Install(context.Background(), types.ToolNode, "", nil, WithKeepDownloads(true))
			Expect(result.Success).To(BeTrue())

			matches, err := filepath.Glob(filepath.Join(root, "tmp", "toolchain-downloads", "*", "*.msi"))
			Expect(err).NotTo(HaveOccurred())
			Expect(matches).To(HaveLen(1))
		})

		It("skips a compatible installation", func() {
			writeBinary(bin, "node.exe")
			runner.Set("node.exe --version", "v20.11.0")

			result := newOrchestrator(windows).Install(context.Background(), types.ToolNode, "", progress.report)

			Expect(result.Success).To(BeTrue())
			Expect(result.Skipped).To(BeTrue())
			Expect(result.InstalledVersion).To(Equal("20.11.0"))
			Expect(exec.Calls()).To(BeEmpty())
			Expect(requests).To(BeEmpty())
			Expect(progress.last().Percent).To(Equal(100))
		})

		It("reinstalls when forced", func() {
			writeBinary(bin, "node.exe")
			runner.Set("node.exe --version", "v20.11.0")
			installNodeMsi()

			result := newOrchestrator(windows).Install(context.Background(), types.ToolNode, "", nil, WithForce(true))
			Expect(result.Success).To(BeTrue())
			Expect(result.Skipped).To(BeFalse())
			Expect(exec.Calls()).NotTo(BeEmpty())
		})

		It("upgrades an outdated installation", func() {
			writeBinary(bin, "node.exe")
			runner.Set("node.exe --version", "v16.20.0")
			installNodeMsi()

			result := newOrchestrator(windows).Install(context.Background(), types.ToolNode, "", nil)
			Expect(result.Success).To(BeTrue())
			Expect(result.Skipped).To(BeFalse())
			Expect(result.InstalledVersion).To(Equal("20.11.0"))
		})

		It("fails verification when a different version answers after install", func() {
			writeBinary(bin, "node.exe")
			runner.Set("node.exe --version", "v20.11.0")
			exec.Handle("msiexec", func([]string) (string, error) { return "", nil })

			result := newOrchestrator(windows).Install(context.Background(), types.ToolNode, "21.1.0", nil)
			Expect(result.Success).To(BeFalse())
			Expect(result.ErrorCode).To(Equal(types.ErrVerificationFailed))
			Expect(result.Error).To(ContainSubstring("21.1.0"))
			Expect(exec.Calls()).To(HaveLen(1))
			Expect(exec.Calls()[0]).To(HavePrefix("msiexec /i "))
		})

		It("rejects a version below the minimum", func() {
			result := newOrchestrator(windows).Install(context.Background(), types.ToolNode, "16.0.0", progress.report)
			Expect(result.Success).To(BeFalse())
			Expect(result.ErrorCode).To(Equal(types.ErrIncompatibleVersion))
			Expect(progress.last().Stage).To(Equal(types.StageFailed))
			Expect(progress.last().Error).NotTo(BeEmpty())
		})

		It("fails the preflight on insufficient disk space", func() {
			o := newOrchestrator(windows, WithFreeSpace(func(string) (int64, error) { return 100, nil }))
			result := o.Install(context.Background(), types.ToolNode, "", nil)

			Expect(result.ErrorCode).To(Equal(types.ErrInsufficientDiskSpace))
			Expect(result.Requirements).NotTo(BeNil())
			Expect(result.Requirements.HasSufficientSpace).To(BeFalse())
			Expect(result.Requirements.DiskSpaceAvailable).To(BeNumerically("==", 100))
			Expect(requests).To(BeEmpty())
		})

		It("requires elevation when it is disabled", func() {
			o := newOrchestrator(windows, WithElevationProbe(func(platform.Platform) bool { return true }))
			result := o.Install(context.Background(), types.ToolNode, "", nil, WithElevation(false))

			Expect(result.ErrorCode).To(Equal(types.ErrElevationRequired))
			Expect(result.Requirements.RequiresElevation).To(BeTrue())
			Expect(exec.Calls()).To(BeEmpty())
		})

		It("maps HTTP errors to DownloadFailed", func() {
			node := cfg.Tools[types.ToolNode]
			spec := node.PlatformPackageMap["windows"]
			spec.URLTemplate = server.URL + "/dist/missing/node-v{{.version}}.msi"
			node.PlatformPackageMap["windows"] = spec
			cfg.Tools[types.ToolNode] = node

			result := newOrchestrator(windows).Install(context.Background(), types.ToolNode, "", progress.report)
			Expect(result.ErrorCode).To(Equal(types.ErrDownloadFailed))
			Expect(result.Error).To(ContainSubstring("404"))
			Expect(exec.Calls()).To(BeEmpty())
		})

		Context("with a published checksum listing", func() {
			// sha256 of the 4096 byte body served under /dist/
			const artifactSHA256 = "a2e659dacb4691e887ac0139f8893d04764ee197d70fb73d3190d56113d18e3e"

			BeforeEach(func() {
				node := cfg.Tools[types.ToolNode]
				spec := node.PlatformPackageMap["windows"]
				spec.ChecksumURL = server.URL + "/sums/v{{.version}}/SHASUMS256.txt"
				node.PlatformPackageMap["windows"] = spec
				cfg.Tools[types.ToolNode] = node
			})

			It("installs when the checksum matches", func() {
				installNodeMsi()
				shasums = artifactSHA256 + "  node-v20.11.0-x64.msi\n"

				result := newOrchestrator(windows).Install(context.Background(), types.ToolNode, "", nil)
				Expect(result.Error).To(BeEmpty())
				Expect(result.Success).To(BeTrue())
			})

			It("maps a mismatch to IntegrityCheckFailed", func() {
				installNodeMsi()
				shasums = strings.Repeat("0", 64) + "  node-v20.11.0-x64.msi\n"

				result := newOrchestrator(windows).Install(context.Background(), types.ToolNode, "", nil)
				Expect(result.ErrorCode).To(Equal(types.ErrIntegrityCheckFailed))
				Expect(result.Error).To(ContainSubstring("checksum mismatch"))
				Expect(exec.Calls()).To(BeEmpty())
			})

			It("falls back to an existence check without a listing", func() {
				installNodeMsi()

				result := newOrchestrator(windows).Install(context.Background(), types.ToolNode, "", nil)
				Expect(result.Success).To(BeTrue())
			})
		})

		It("maps installer failures to PlatformInstallFailed", func() {
			exec.Handle("msiexec", func([]string) (string, error) {
				return "", fmt.Errorf("exit status 1603")
			})
			result := newOrchestrator(windows).Install(context.Background(), types.ToolNode, "", nil)
			Expect(result.ErrorCode).To(Equal(types.ErrPlatformInstallFailed))
			Expect(result.Error).To(ContainSubstring("1603"))
			Expect(result.Logs).NotTo(BeEmpty())
		})

		It("fails verification when the binary never appears", func() {
			result := newOrchestrator(windows).Install(context.Background(), types.ToolNode, "", nil)
			Expect(result.ErrorCode).To(Equal(types.ErrVerificationFailed))
		})

		It("reports cancellation while installing", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			exec.Handle("msiexec", func([]string) (string, error) {
				cancel()
				return "", context.Canceled
			})
			result := newOrchestrator(windows).Install(ctx, types.ToolNode, "", progress.report)
			Expect(result.ErrorCode).To(Equal(types.ErrCancelled))
			Expect(progress.last().Stage).To(Equal(types.StageFailed))
		})

		It("does nothing once already cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			result := newOrchestrator(windows).Install(ctx, types.ToolNode, "", nil)
			Expect(result.ErrorCode).To(Equal(types.ErrCancelled))
			Expect(requests).To(BeEmpty())
		})
	})

	Context("git on linux", func() {
		It("installs through the detected package manager", func() {
			lookPath = func(name string) (string, error) {
				if name == "apt-get" {
					return "/usr/bin/apt-get", nil
				}
				return "", errors.New("not found")
			}
			exec.Handle("apt-get", func(args []string) (string, error) {
				if args[0] == "install" {
					writeBinary(bin, "git")
					runner.Set("git --version", "git version 2.43.0")
				}
				return "", nil
			})

			result := newOrchestrator(linux).Install(context.Background(), types.ToolGit, "", progress.report)

			Expect(result.Error).To(BeEmpty())
			Expect(result.Success).To(BeTrue())
			Expect(result.InstalledVersion).To(Equal("2.43.0"))
			Expect(exec.Calls()).To(Equal([]string{
				"apt-get update",
				"apt-get install -y git",
				"git config --list",
			}))
		})

		It("fails when no package manager exists", func() {
			result := newOrchestrator(linux).Install(context.Background(), types.ToolGit, "", nil)
			Expect(result.ErrorCode).To(Equal(types.ErrPlatformInstallFailed))
			Expect(result.Error).To(ContainSubstring("no supported package manager"))
		})
	})

	Context("claude", func() {
		It("requires npm", func() {
			result := newOrchestrator(linux).Install(context.Background(), types.ToolAssistant, "", progress.report)
			Expect(result.ErrorCode).To(Equal(types.ErrNotInstalled))
			Expect(result.Error).To(ContainSubstring("npm"))
		})

		It("installs the registry version with npm", func() {
			prefix := filepath.Join(root, "prefix")
			Expect(os.MkdirAll(prefix, 0o755)).To(Succeed())
			lookPath = func(name string) (string, error) {
				if name == "npm" {
					return "/opt/node/bin/npm", nil
				}
				return "", errors.New("not found")
			}
			exec.Handle("npm", func(args []string) (string, error) {
				switch strings.Join(args, " ") {
				case "config get registry":
					return server.URL, nil
				case "config get prefix":
					return prefix, nil
				}
				if args[0] == "install" {
					writeBinary(bin, "claude")
					runner.Set("claude --version", "1.0.5 (Claude Code)")
				}
				return "", nil
			})

			result := newOrchestrator(linux).Install(context.Background(), types.ToolAssistant, "", progress.report)

			Expect(result.Error).To(BeEmpty())
			Expect(result.Success).To(BeTrue())
			Expect(result.InstalledVersion).To(Equal("1.0.5"))
			Expect(result.Requirements.Prerequisites).To(ConsistOf("npm"))
			Expect(exec.Calls()).To(ContainElement("npm install -g @anthropic-ai/claude-code@1.0.5 --no-fund --no-audit"))
			Expect(exec.Calls()).To(ContainElement("claude config list"))
		})

		It("uses the user prefix for user-local installs", func() {
			lookPath = func(name string) (string, error) { return "/opt/node/bin/" + name, nil }
			local := filepath.Join(root, "local")
			exec.Handle("npm", func(args []string) (string, error) {
				if args[0] == "install" {
					writeBinary(bin, "claude")
					runner.Set("claude --version", "1.0.4")
				}
				return "", nil
			})

			result := newOrchestrator(linux).Install(context.Background(), types.ToolAssistant, "1.0.4", nil, WithUserLocal(true))

			Expect(result.Success).To(BeTrue())
			Expect(result.InstallPath).To(Equal(local))
			Expect(exec.Calls()).To(ContainElement(
				"npm install -g @anthropic-ai/claude-code@1.0.4 --no-fund --no-audit --prefix " + local))
		})
	})
})

var _ = DescribeTable("installedMatches",
	func(installed, requested string, pkg types.InstallationPackage, ok bool) {
		err := installedMatches(installed, requested, &pkg)
		if ok {
			Expect(err).NotTo(HaveOccurred())
		} else {
			Expect(err).To(HaveOccurred())
		}
	},
	Entry("resolved version", "20.11.0", "", types.InstallationPackage{Version: "20.11.0", Spec: types.PackageSpec{Method: MethodMsi}}, true),
	Entry("older binary shadows the install", "20.11.0", "", types.InstallationPackage{Version: "21.1.0", Spec: types.PackageSpec{Method: MethodMsi}}, false),
	Entry("exact request", "21.1.0", "v21.1.0", types.InstallationPackage{Version: "21.1.0", Spec: types.PackageSpec{Method: MethodMsi}}, true),
	Entry("partial request satisfied", "20.11.0", "20", types.InstallationPackage{Version: "20.11.0", Spec: types.PackageSpec{Method: MethodArchive}}, true),
	Entry("partial request missed", "18.19.0", "20", types.InstallationPackage{Version: "latest", Spec: types.PackageSpec{Method: MethodNpm}}, false),
	Entry("package manager picks its own version", "2.39.2", "2.44.0", types.InstallationPackage{Version: "2.44.0", Spec: types.PackageSpec{Method: MethodPackageManager}}, true),
)

var _ = Describe("Progress", func() {
	DescribeTable("StagePercent",
		func(stage types.Stage, fraction float64, expected int) {
			Expect(StagePercent(stage, fraction)).To(Equal(expected))
		},
		Entry("configuring start", types.StageConfiguring, 0.0, 0),
		Entry("configuring end", types.StageConfiguring, 1.0, 25),
		Entry("downloading half", types.StageDownloading, 0.5, 52),
		Entry("installing start", types.StageInstalling, 0.0, 80),
		Entry("verifying end", types.StageVerifying, 1.0, 100),
		Entry("completed", types.StageCompleted, 0.0, 100),
		Entry("clamped", types.StageDownloading, 3.0, 80),
		Entry("failed has no band", types.StageFailed, 1.0, 0),
	)

	It("ignores backwards stages and events after a terminal one", func() {
		var got []types.InstallationProgress
		t := newTracker(types.ToolGit, func(p types.InstallationProgress) { got = append(got, p) }, NewLogBuffer(10))
		t.emit(types.StageDownloading, 0.5, "half")
		t.emit(types.StageConfiguring, 1, "late")
		t.emit(types.StageDownloading, 0.1, "slower")
		t.emit(types.StageCompleted, 1, "done")
		t.fail(errors.New("ignored"))
		t.emit(types.StageVerifying, 0, "ignored")

		Expect(got).To(HaveLen(3))
		Expect(got[1].Percent).To(Equal(got[0].Percent))
		Expect(got[2].Stage).To(Equal(types.StageCompleted))
	})
})

var _ = Describe("LogBuffer", func() {
	It("keeps the newest lines up to the limit", func() {
		b := NewLogBuffer(3)
		for i := range 5 {
			b.Addf("line %d", i)
		}
		Expect(b.Len()).To(Equal(3))
		Expect(b.Dropped()).To(Equal(2))
		lines := b.Lines()
		Expect(lines[0]).To(HaveSuffix("line 2"))
		Expect(lines[2]).To(HaveSuffix("line 4"))
	})
})

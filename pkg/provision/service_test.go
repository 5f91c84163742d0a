package provision

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/flanksource/toolchain/mock"
	"github.com/flanksource/toolchain/pkg/config"
	"github.com/flanksource/toolchain/pkg/detect"
	"github.com/flanksource/toolchain/pkg/installer"
	"github.com/flanksource/toolchain/pkg/platform"
	"github.com/flanksource/toolchain/pkg/types"
	"github.com/flanksource/toolchain/pkg/version"
)

var versionOutput = map[types.Tool]string{
	types.ToolGit:       "git version 2.43.0",
	types.ToolNode:      "v20.11.0",
	types.ToolAssistant: "1.0.5 (Claude Code)",
}

// fakeVariant "installs" by dropping an executable into bin
type fakeVariant struct {
	tool    types.Tool
	bin     string
	runner  *mock.Executor
	fail    bool
	block   chan struct{}
	started chan struct{}
	mu      *sync.Mutex
	order   *[]types.Tool
}

func (v fakeVariant) Tool() types.Tool { return v.tool }

func (v fakeVariant) Prerequisites(context.Context, *installer.Env) ([]string, error) { return nil, nil }

// Resolve picks the version the installed binary will report
func (v fakeVariant) Resolve(_ context.Context, env *installer.Env, spec types.PackageSpec, _ string) (*types.InstallationPackage, error) {
	resolved, err := version.ExtractFromOutput(versionOutput[v.tool], "")
	if err != nil {
		return nil, err
	}
	return &types.InstallationPackage{Name: string(v.tool), Version: resolved, Platform: env.Platform.OS, Arch: env.Platform.Arch, Spec: spec}, nil
}

func (v fakeVariant) Install(ctx context.Context, env *installer.Env, _ *types.InstallationPackage, _ string) (string, error) {
	v.mu.Lock()
	*v.order = append(*v.order, v.tool)
	v.mu.Unlock()
	if v.started != nil {
		close(v.started)
	}
	if v.block != nil {
		select {
		case <-v.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if v.fail {
		return "", errors.New("installer exited with code 1")
	}
	env.Logf("installing %s", v.tool)
	Expect(os.WriteFile(filepath.Join(v.bin, env.Descriptor.Binary), []byte("#!/bin/sh\n"), 0o755)).To(Succeed())
	v.runner.Set(env.Descriptor.Binary+" --version", versionOutput[v.tool])
	return v.bin, nil
}

func (v fakeVariant) Verify(context.Context, *installer.Env, *types.InstallationInfo) error { return nil }

var _ = Describe("Service", func() {
	var (
		root     string
		bin      string
		runner   *mock.Executor
		variants map[types.Tool]*fakeVariant
		order    []types.Tool
		orderMu  sync.Mutex
	)

	BeforeEach(func() {
		root = GinkgoT().TempDir()
		bin = filepath.Join(root, "bin")
		Expect(os.MkdirAll(bin, 0o755)).To(Succeed())
		runner = mock.NewExecutor()
		order = nil
		variants = map[types.Tool]*fakeVariant{}
		for _, tool := range types.AllTools() {
			variants[tool] = &fakeVariant{tool: tool, bin: bin, runner: runner, mu: &orderMu, order: &order}
		}
	})

	newService := func() *Service {
		cfg, err := config.LoadDefaultConfig()
		Expect(err).NotTo(HaveOccurred())
		opts := []installer.Option{
			installer.WithPlatform(platform.Platform{OS: "linux", Arch: "amd64"}),
			installer.WithExecutor(mock.NewExecutor()),
			installer.WithDetectorOptions(
				detect.WithRunner(runner),
				detect.WithHome(filepath.Join(root, "home")),
				detect.WithSearchPath(bin),
				detect.WithExtraDirs(),
			),
			installer.WithFreeSpace(func(string) (int64, error) { return 1 << 40, nil }),
			installer.WithElevationProbe(func(platform.Platform) bool { return false }),
			installer.WithDefaults(installer.WithTmpDir(filepath.Join(root, "tmp"))),
		}
		for _, v := range variants {
			opts = append(opts, installer.WithVariant(*v))
		}
		svc := New(cfg, WithInstallerOptions(opts...))
		DeferCleanup(func() { _ = svc.Shutdown(context.Background()) })
		return svc
	}

	Describe("DetectEnvironment", func() {
		It("reports missing tools with recommendations", func() {
			env, err := newService().DetectEnvironment(context.Background(), DetectRequest{})
			Expect(err).NotTo(HaveOccurred())
			Expect(env.FromCache).To(BeFalse())
			Expect(env.Tools).To(HaveLen(3))
			Expect(env.Ready()).To(BeFalse())

			for _, status := range env.Ordered() {
				Expect(status.Errors).To(BeEmpty())
				Expect(status.Info.Installed).To(BeFalse())
				Expect(status.Compatibility.Compatible).To(BeFalse())
				Expect(status.Compatibility.Issues).NotTo(BeEmpty())
				Expect(status.Environment).NotTo(BeNil())
				Expect(status.Status()).To(Equal(types.CheckStatusMissing))
			}
			Expect(env.Recommendations).To(HaveLen(3))
			Expect(env.Recommendations[0]).To(ContainSubstring("git"))
		})

		It("serves repeated scans from the cache until forced", func() {
			svc := newService()
			writeTool(bin, "git")
			runner.Set("git --version", "git version 2.43.0")

			first, err := svc.DetectEnvironment(context.Background(), DetectRequest{Tools: []types.Tool{types.ToolGit}})
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Tools[types.ToolGit].Info.Version).To(Equal("2.43.0"))
			calls := runner.Calls()

			second, err := svc.DetectEnvironment(context.Background(), DetectRequest{Tools: []types.Tool{types.ToolGit}})
			Expect(err).NotTo(HaveOccurred())
			Expect(second.FromCache).To(BeTrue())
			Expect(runner.Calls()).To(Equal(calls))

			runner.Set("git --version", "git version 2.44.0")
			forced, err := svc.DetectEnvironment(context.Background(), DetectRequest{Tools: []types.Tool{types.ToolGit}, Force: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(forced.FromCache).To(BeFalse())
			Expect(forced.Tools[types.ToolGit].Info.Version).To(Equal("2.44.0"))
		})

		It("rejects unknown tools", func() {
			_, err := newService().DetectEnvironment(context.Background(), DetectRequest{Tools: []types.Tool{"svn"}})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Install", func() {
		It("installs, then reports the tool as installed", func() {
			svc := newService()
			before, err := svc.DetectEnvironment(context.Background(), DetectRequest{Tools: []types.Tool{types.ToolNode}})
			Expect(err).NotTo(HaveOccurred())
			Expect(before.Tools[types.ToolNode].Info.Installed).To(BeFalse())

			result := svc.Install(context.Background(), types.ToolNode, "")
			Expect(result.Error).To(BeEmpty())
			Expect(result.Success).To(BeTrue())
			Expect(result.InstalledVersion).To(Equal("20.11.0"))

			after, err := svc.DetectEnvironment(context.Background(), DetectRequest{Tools: []types.Tool{types.ToolNode}})
			Expect(err).NotTo(HaveOccurred())
			Expect(after.FromCache).To(BeFalse())
			Expect(after.Tools[types.ToolNode].Info.Installed).To(BeTrue())
			Expect(after.Tools[types.ToolNode].Info.Version).To(Equal("20.11.0"))

			progress := svc.InstallProgress(types.ToolNode)
			Expect(progress.IsInstalling).To(BeFalse())
			Expect(progress.Logs).NotTo(BeEmpty())
		})

		It("streams progress to subscribers and closes the stream", func() {
			svc := newService()
			events, unsubscribe := svc.SubscribeProgress(types.ToolGit)
			defer unsubscribe()

			Expect(svc.Install(context.Background(), types.ToolGit, "").Success).To(BeTrue())

			var received []types.InstallationProgress
			for p := range events {
				received = append(received, p)
			}
			Expect(received).NotTo(BeEmpty())
			Expect(received[len(received)-1].Stage).To(Equal(types.StageCompleted))
			Expect(received[len(received)-1].Percent).To(Equal(100))
		})

		It("fails unknown tools without panicking", func() {
			result := newService().Install(context.Background(), "svn", "")
			Expect(result.Success).To(BeFalse())
			Expect(result.ErrorCode).To(Equal(types.ErrUnknown))
		})

		It("shares one run between concurrent installs of a tool", func() {
			release := make(chan struct{})
			variants[types.ToolGit].block = release
			variants[types.ToolGit].started = make(chan struct{})
			svc := newService()

			results := make([]*types.InstallResult, 2)
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				results[0] = svc.Install(context.Background(), types.ToolGit, "")
			}()
			Eventually(variants[types.ToolGit].started).Should(BeClosed())

			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				results[1] = svc.Install(context.Background(), types.ToolGit, "")
			}()
			time.Sleep(50 * time.Millisecond)
			close(release)
			wg.Wait()

			Expect(order).To(Equal([]types.Tool{types.ToolGit}))
			Expect(results[0]).To(BeIdenticalTo(results[1]))
			Expect(results[0].Success).To(BeTrue())
		})

		It("cancels a running install", func() {
			variants[types.ToolNode].block = make(chan struct{})
			variants[types.ToolNode].started = make(chan struct{})
			svc := newService()
			events, _ := svc.SubscribeProgress(types.ToolNode)

			done := make(chan *types.InstallResult, 1)
			go func() { done <- svc.Install(context.Background(), types.ToolNode, "") }()
			Eventually(variants[types.ToolNode].started).Should(BeClosed())

			status := svc.InstallProgress(types.ToolNode)
			Expect(status.IsInstalling).To(BeTrue())
			Expect(status.Progress).NotTo(BeNil())
			Expect(status.Progress.Stage).To(Equal(types.StageInstalling))
			Expect(svc.ActiveInstalls()).To(ConsistOf(types.ToolNode))

			Expect(svc.CancelInstall(types.ToolNode)).To(BeTrue())
			Expect(svc.CancelInstall(types.ToolNode)).To(BeFalse())
			Eventually(events).Should(BeClosed())

			var result *types.InstallResult
			Eventually(done).Should(Receive(&result))
			Expect(result.Success).To(BeFalse())
			Expect(result.ErrorCode).To(Equal(types.ErrCancelled))
			Expect(svc.InstallProgress(types.ToolNode).IsInstalling).To(BeFalse())
		})

		It("does not cancel a tool that is not installing", func() {
			Expect(newService().CancelInstall(types.ToolGit)).To(BeFalse())
		})
	})

	Describe("BatchInstall", func() {
		It("runs in dependency order and continues after a failure", func() {
			variants[types.ToolGit].fail = true
			svc := newService()

			batch, err := svc.BatchInstall(context.Background(), []types.Tool{types.ToolAssistant, types.ToolGit, types.ToolNode})
			Expect(err).NotTo(HaveOccurred())

			Expect(order).To(Equal([]types.Tool{types.ToolGit, types.ToolNode, types.ToolAssistant}))
			Expect(batch.Order).To(Equal(order))
			Expect(batch.Success()).To(BeFalse())
			Expect(batch.Failed()).To(Equal([]types.Tool{types.ToolGit}))
			Expect(batch.Results[types.ToolGit].ErrorCode).To(Equal(types.ErrPlatformInstallFailed))
			Expect(batch.Results[types.ToolNode].Success).To(BeTrue())
			Expect(batch.Results[types.ToolAssistant].Success).To(BeTrue())
		})

		It("skips tools that are already installed", func() {
			writeTool(bin, "git")
			runner.Set("git --version", "git version 2.43.0")

			batch, err := newService().BatchInstall(context.Background(), []types.Tool{types.ToolGit})
			Expect(err).NotTo(HaveOccurred())
			Expect(batch.Results[types.ToolGit].Skipped).To(BeTrue())
			Expect(order).To(BeEmpty())
		})
	})

	Describe("Shutdown", func() {
		It("cancels installs and stops accepting processes", func() {
			variants[types.ToolGit].block = make(chan struct{})
			variants[types.ToolGit].started = make(chan struct{})
			svc := newService()

			done := make(chan *types.InstallResult, 1)
			go func() { done <- svc.Install(context.Background(), types.ToolGit, "") }()
			Eventually(variants[types.ToolGit].started).Should(BeClosed())

			Expect(svc.Shutdown(context.Background())).To(Succeed())
			Expect(svc.Shutdown(context.Background())).To(Succeed())

			var result *types.InstallResult
			Eventually(done).Should(Receive(&result))
			Expect(result.ErrorCode).To(Equal(types.ErrCancelled))

			_, err := svc.SpawnManagedProcess(context.Background(), ProcessRequest{Command: "sh", Args: []string{"-c", "true"}})
			Expect(types.CodeOf(err)).To(Equal(types.ErrProcessSpawnFailed))
		})
	})

	Describe("ParseTool", func() {
		It("suggests close matches", func() {
			_, err := newService().ParseTool("nod")
			Expect(err).To(MatchError(ContainSubstring("did you mean node")))
		})
	})
})

func writeTool(dir, name string) {
	Expect(os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"), 0o755)).To(Succeed())
}

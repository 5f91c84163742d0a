package detect

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/flanksource/toolchain/mock"
	"github.com/flanksource/toolchain/pkg/platform"
	"github.com/flanksource/toolchain/pkg/types"
)

func writeExecutable(dir, name string) string {
	Expect(os.MkdirAll(dir, 0o755)).To(Succeed())
	p := filepath.Join(dir, name)
	Expect(os.WriteFile(p, []byte("#!/bin/sh\n"), 0o755)).To(Succeed())
	return p
}

var gitDescriptor = types.ToolDescriptor{
	Name:               types.ToolGit,
	Binary:             "git",
	VersionArgs:        []string{"--version"},
	MinVersion:         "2.20.0",
	RecommendedVersion: "2.43.0",
}

var linux = platform.Platform{OS: "linux", Arch: "amd64"}

var _ = Describe("Detector", func() {
	var (
		root   string
		runner *mock.Executor
	)

	BeforeEach(func() {
		root = GinkgoT().TempDir()
		runner = mock.NewExecutor()
	})

	newDetector := func(desc types.ToolDescriptor, dirs ...string) *Detector {
		return New(desc,
			WithRunner(runner),
			WithPlatform(linux),
			WithHome(filepath.Join(root, "home")),
			WithSearchPath(dirs...),
			WithExtraDirs(),
		)
	}

	It("reports a missing tool without error", func() {
		info, err := newDetector(gitDescriptor, filepath.Join(root, "empty")).Detect(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Installed).To(BeFalse())
		Expect(info.InstallationType).To(Equal(types.InstallationUnknown))
		Expect(runner.Calls()).To(BeEmpty())
	})

	It("parses the version and classifies the install", func() {
		bin := filepath.Join(root, "usr", "bin")
		writeExecutable(bin, "git")
		runner.Set("git --version", "git version 2.43.0\n")

		info, err := newDetector(gitDescriptor, bin).Detect(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Installed).To(BeTrue())
		Expect(info.Version).To(Equal("2.43.0"))
		Expect(info.ExecutablePath).To(HaveSuffix(filepath.Join("usr", "bin", "git")))
		Expect(info.InstallationType).To(Equal(types.InstallationSystem))
	})

	It("follows symlinks to the real executable", func() {
		real := writeExecutable(filepath.Join(root, "home", ".nvm", "versions", "node", "v20.11.0", "bin"), "node")
		link := filepath.Join(root, "links")
		Expect(os.MkdirAll(link, 0o755)).To(Succeed())
		Expect(os.Symlink(real, filepath.Join(link, "node"))).To(Succeed())
		runner.Set("node --version", "v20.11.0")

		desc := types.ToolDescriptor{Name: types.ToolNode, Binary: "node", MinVersion: "18.0.0", RecommendedVersion: "20.0.0"}
		info, err := newDetector(desc, link).Detect(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Version).To(Equal("20.11.0"))
		Expect(info.InstallationType).To(Equal(types.InstallationUserLocal))
		Expect(info.InstallLocation).To(HaveSuffix("v20.11.0"))
	})

	It("returns an error when the version query fails", func() {
		bin := filepath.Join(root, "bin")
		writeExecutable(bin, "git")
		runner.Fail("git --version", errors.New("exit status 1"))

		info, err := newDetector(gitDescriptor, bin).Detect(context.Background())
		Expect(err).To(HaveOccurred())
		Expect(info.Installed).To(BeFalse())
		Expect(info.ExecutablePath).NotTo(BeEmpty())
	})

	It("searches extra directories after PATH", func() {
		extra := filepath.Join(root, "home", ".local", "bin")
		writeExecutable(extra, "git")
		runner.Set("git --version", "git version 2.44.1")

		d := New(gitDescriptor, WithRunner(runner), WithPlatform(linux), WithHome(filepath.Join(root, "home")),
			WithSearchPath(filepath.Join(root, "empty")), WithExtraDirs(extra))
		info, err := d.Detect(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Installed).To(BeTrue())
		Expect(info.InstallationType).To(Equal(types.InstallationUserLocal))
	})

	Describe("Compatibility", func() {
		It("flags versions below the minimum", func() {
			bin := filepath.Join(root, "usr", "bin")
			writeExecutable(bin, "git")
			runner.Set("git --version", "git version 2.17.1")

			report, err := newDetector(gitDescriptor, bin).Compatibility(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Compatible).To(BeFalse())
			Expect(report.NeedsUpgrade).To(BeTrue())
			Expect(report.CurrentVersion).To(Equal("2.17.1"))
			Expect(report.Issues).To(HaveLen(1))
		})
	})

	Describe("CheckEnvironment", func() {
		It("lists PATH entries and shadowed copies", func() {
			first := filepath.Join(root, "a")
			second := filepath.Join(root, "b")
			writeExecutable(first, "git")
			writeExecutable(second, "git")
			runner.Set("git config --global user.name", "Jane")

			check := newDetector(gitDescriptor, first, second).CheckEnvironment(context.Background())
			Expect(check.InPath).To(BeTrue())
			Expect(check.PathEntries).To(Equal([]string{first, second}))
			Expect(check.Conflicts).To(ContainElement(HaveSuffix(filepath.Join("b", "git"))))
			Expect(check.Config).To(HaveKeyWithValue("user.name", "set"))
			Expect(check.Config).To(HaveKeyWithValue("user.email", "unset"))
		})

		It("records probe failures without failing", func() {
			runner.Fail("npm config get registry", errors.New("npm: not found"))
			desc := types.ToolDescriptor{Name: types.ToolNode, Binary: "node"}

			check := newDetector(desc, filepath.Join(root, "empty")).CheckEnvironment(context.Background())
			Expect(check.InPath).To(BeFalse())
			Expect(check.Errors).To(HaveKey("registry"))
		})

		It("detects a registry mirror", func() {
			runner.Set("npm config get registry", "https://npm.internal.example/")
			desc := types.ToolDescriptor{Name: types.ToolNode, Binary: "node"}

			check := newDetector(desc, filepath.Join(root, "empty")).CheckEnvironment(context.Background())
			Expect(check.Config).To(HaveKeyWithValue("mirror", "true"))
		})
	})
})

var _ = DescribeTable("Classify",
	func(path string, expected types.InstallationType) {
		kind, _ := Classify(path, "/home/dev")
		Expect(kind).To(Equal(expected))
	},
	Entry("system git", "/usr/bin/git", types.InstallationSystem),
	Entry("homebrew", "/opt/homebrew/Cellar/git/2.43.0/bin/git", types.InstallationPackageManager),
	Entry("nvm", "/home/dev/.nvm/versions/node/v20.0.0/bin/node", types.InstallationUserLocal),
	Entry("local bin", "/home/dev/.local/bin/claude", types.InstallationUserLocal),
	Entry("windows program files", `C:\Program Files\Git\cmd\git.exe`, types.InstallationSystem),
	Entry("scoop", `C:\Users\dev\scoop\apps\nodejs\current\node.exe`, types.InstallationPackageManager),
	Entry("unrecognised", "/srv/tools/git", types.InstallationUnknown),
)

package toolchain

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("New", func() {
	It("fails for an explicit config path that does not exist", func() {
		_, err := New(filepath.Join(GinkgoT().TempDir(), "missing.yaml"))
		Expect(err).To(HaveOccurred())
	})

	It("merges a user config over the defaults", func() {
		path := filepath.Join(GinkgoT().TempDir(), "toolchain.yaml")
		Expect(os.WriteFile(path, []byte("tools:\n  node:\n    min_version: 22.0.0\n"), 0644)).To(Succeed())

		svc, err := New(path)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = svc.Shutdown(context.Background()) })

		node, err := svc.Config().Descriptor(Node)
		Expect(err).NotTo(HaveOccurred())
		Expect(node.MinVersion).To(Equal("22.0.0"))
		Expect(node.Binary).To(Equal("node"))

		git, err := svc.Config().Descriptor(Git)
		Expect(err).NotTo(HaveOccurred())
		Expect(git.MinVersion).To(Equal("2.20.0"))
	})

	It("returns a service that supervises processes", func() {
		path := filepath.Join(GinkgoT().TempDir(), "toolchain.yaml")
		Expect(os.WriteFile(path, []byte("settings:\n  supervisor:\n    kill_grace: 200ms\n"), 0644)).To(Succeed())
		svc, err := New(path)
		Expect(err).NotTo(HaveOccurred())

		runID, err := svc.SpawnManagedProcess(context.Background(), ProcessRequest{Command: "sh", Args: []string{"-c", "sleep 30"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(svc.IsProcessRunning(runID)).To(BeTrue())

		Expect(svc.Shutdown(context.Background())).To(Succeed())
		Expect(svc.IsProcessRunning(runID)).To(BeFalse())
	})

	It("reports unknown tools with a typed error code", func() {
		svc, err := New(writeEmptyConfig())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = svc.Shutdown(context.Background()) })

		result := svc.Install(context.Background(), Tool("rustc"), "")
		Expect(result.Success).To(BeFalse())
		Expect(result.ErrorCode).To(Equal(ErrorCode("Unknown")))
	})
})

func writeEmptyConfig() string {
	path := filepath.Join(GinkgoT().TempDir(), "toolchain.yaml")
	Expect(os.WriteFile(path, []byte("{}\n"), 0644)).To(Succeed())
	return path
}

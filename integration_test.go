//go:build integration

package toolchain

import (
	"context"
	"os/exec"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// These run against the host's real tools and network
var _ = Describe("Host environment", Ordered, func() {
	var svc *Service
	ctx := context.Background()

	BeforeAll(func() {
		var err error
		svc, err = New(writeEmptyConfig())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = svc.Shutdown(ctx) })
	})

	It("detects git like the shell does", func() {
		_, lookErr := exec.LookPath("git")

		env, err := svc.DetectEnvironment(ctx, DetectRequest{Tools: []Tool{Git}})
		Expect(err).NotTo(HaveOccurred())
		status := env.Tools[Git]
		Expect(status).NotTo(BeNil())
		Expect(status.Info).NotTo(BeNil())
		Expect(status.Info.Installed).To(Equal(lookErr == nil))
		if status.Info.Installed {
			Expect(status.Info.Version).To(MatchRegexp(`^\d+\.\d+`))
		}

		cached, err := svc.DetectEnvironment(ctx, DetectRequest{Tools: []Tool{Git}})
		Expect(err).NotTo(HaveOccurred())
		Expect(cached.FromCache).To(BeTrue())
	})

	It("shallow clones a public repository", func() {
		if _, err := exec.LookPath("git"); err != nil {
			Skip("git is not installed")
		}
		dest := filepath.Join(GinkgoT().TempDir(), "repo")
		cctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()

		result, err := svc.CloneRepository(cctx, "https://github.com/flanksource/commons.git", dest, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Skipped).To(BeFalse())
		Expect(filepath.Join(dest, "go.mod")).To(BeAnExistingFile())

		again, err := svc.CloneRepository(cctx, "https://github.com/flanksource/commons.git", dest, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(again.Skipped).To(BeTrue())
	})
})

package helpers

import (
	"os"
	"os/exec"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gexec"
)

// Binary is the toolchain CLI built for the suite
var Binary string

// Timeout bounds every CLI invocation
var Timeout = 30 * time.Second

// TestContext is an isolated working directory with its own config
type TestContext struct {
	Dir        string
	ConfigFile string
	Env        []string
}

// NewTestContext creates a temp dir with an empty toolchain.yaml and a PATH
// limited to fake tools written with WriteTool
func NewTestContext() *TestContext {
	dir := GinkgoT().TempDir()
	bin := filepath.Join(dir, "bin")
	Expect(os.MkdirAll(bin, 0755)).To(Succeed())

	config := filepath.Join(dir, "toolchain.yaml")
	Expect(os.WriteFile(config, []byte("settings:\n  tmp_dir: "+dir+"\n"), 0644)).To(Succeed())

	return &TestContext{
		Dir:        dir,
		ConfigFile: config,
		Env: []string{
			"PATH=" + bin + string(os.PathListSeparator) + "/bin" + string(os.PathListSeparator) + "/usr/bin",
			"HOME=" + dir,
		},
	}
}

// WriteTool installs a shell script named name on the context's PATH
func (c *TestContext) WriteTool(name, script string) string {
	path := filepath.Join(c.Dir, "bin", name)
	Expect(os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0755)).To(Succeed())
	return path
}

// Run executes the CLI with args and waits for it to exit
func (c *TestContext) Run(args ...string) *gexec.Session {
	args = append([]string{"--config", c.ConfigFile}, args...)
	cmd := exec.Command(Binary, args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	session, err := gexec.Start(cmd, GinkgoWriter, GinkgoWriter)
	Expect(err).NotTo(HaveOccurred())
	Eventually(session, Timeout).Should(gexec.Exit())
	return session
}

// Start executes the CLI without waiting
func (c *TestContext) Start(args ...string) *gexec.Session {
	args = append([]string{"--config", c.ConfigFile}, args...)
	cmd := exec.Command(Binary, args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	session, err := gexec.Start(cmd, GinkgoWriter, GinkgoWriter)
	Expect(err).NotTo(HaveOccurred())
	return session
}

// Output returns everything the session wrote to stdout and stderr
func Output(session *gexec.Session) string {
	return string(session.Out.Contents()) + string(session.Err.Contents())
}

//go:build !windows

package installer

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/ulikunitz/xz"

	"github.com/flanksource/toolchain/pkg/platform"
	"github.com/flanksource/toolchain/pkg/types"
)

func nodeTarball(dir string) string {
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	Expect(err).NotTo(HaveOccurred())
	tw := tar.NewWriter(xw)
	for name, body := range map[string]string{
		"node-v20.11.0-linux-x64/bin/node": "#!/bin/sh\necho v20.11.0\n",
		"node-v20.11.0-linux-x64/README":   "node",
	} {
		Expect(tw.WriteHeader(&tar.Header{Name: name, Mode: 0o755, Size: int64(len(body)), Typeflag: tar.TypeReg})).To(Succeed())
		_, err := tw.Write([]byte(body))
		Expect(err).NotTo(HaveOccurred())
	}
	Expect(tw.Close()).To(Succeed())
	Expect(xw.Close()).To(Succeed())

	path := filepath.Join(dir, "node-v20.11.0-linux-x64.tar.xz")
	Expect(os.WriteFile(path, buf.Bytes(), 0o644)).To(Succeed())
	return path
}

var _ = Describe("installArchive", func() {
	It("extracts, links and records the extraction in the install log", func() {
		root := GinkgoT().TempDir()
		env := &Env{
			Tool:       types.ToolNode,
			Descriptor: types.ToolDescriptor{Binary: "node"},
			Platform:   platform.Platform{OS: "linux", Arch: "amd64"},
			Options:    InstallOptions{UserLocalRoot: root},
			Logs:       NewLogBuffer(0),
		}

		dest, err := installArchive(env, &types.InstallationPackage{Version: "20.11.0"}, nodeTarball(GinkgoT().TempDir()))
		Expect(err).NotTo(HaveOccurred())
		Expect(dest).To(Equal(filepath.Join(root, "share", "toolchain", "node-20.11.0")))
		Expect(filepath.Join(root, "bin", "node")).To(BeAnExistingFile())

		logs := strings.Join(env.Logs.Lines(), "\n")
		Expect(logs).To(ContainSubstring("extracting node-v20.11.0-linux-x64.tar.xz"))
		Expect(logs).To(ContainSubstring("extracted 2 files"))
		Expect(logs).To(ContainSubstring("linked "))
	})
})

package ledger

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		basePath string
		storage  *LocalStorage
	)

	BeforeEach(func() {
		basePath = filepath.Join(GinkgoT().TempDir(), "invoices")
		var err error
		storage, err = NewLocalStorage(basePath)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should create the base directory", func() {
		info, err := os.Stat(basePath)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.IsDir()).To(BeTrue())
	})

	It("should save and read back a file", func() {
		name, err := storage.Save("abc_factura.pdf", []byte("%PDF-1.4"))
		Expect(err).NotTo(HaveOccurred())
		Expect(name).To(Equal("abc_factura.pdf"))

		data, err := storage.Get(name)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("%PDF-1.4"))
		Expect(storage.Path(name)).To(Equal(filepath.Join(basePath, "abc_factura.pdf")))
	})

	It("should keep files inside the base directory", func() {
		name, err := storage.Save("../../escape.txt", []byte("x"))
		Expect(err).NotTo(HaveOccurred())
		Expect(name).To(Equal("escape.txt"))
		Expect(storage.Path("../escape.txt")).To(Equal(filepath.Join(basePath, "escape.txt")))
	})

	It("should delete files", func() {
		name, err := storage.Save("borrar.jpg", []byte("x"))
		Expect(err).NotTo(HaveOccurred())
		Expect(storage.Delete(name)).To(Succeed())

		_, err = storage.Get(name)
		Expect(err).To(HaveOccurred())
	})

	It("should fail to delete a missing file", func() {
		Expect(storage.Delete("nada.png")).NotTo(Succeed())
	})
})

package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/invoice-extractor/internal/invoice"
)

var _ = Describe("BoltDB", func() {
	var (
		dbPath string
		db     *BoltDB
	)

	stored := func(id, owner string, at time.Time) *StoredInvoice {
		return NewStoredInvoice(id, owner, invoice.Record{
			InvoiceNumber: invoice.String("FE-" + id),
			Total:         invoice.NewAmount("10.00"),
			RawText:       "texto " + id,
		}, "texto "+id, at)
	}

	BeforeEach(func() {
		dbPath = filepath.Join(GinkgoT().TempDir(), "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("SaveInvoice", func() {
		var (
			inv *StoredInvoice
			err error
		)

		BeforeEach(func() {
			inv = stored("a1", "alice", time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))
			inv.Data.Extra = map[string]json.RawMessage{"contract_number": json.RawMessage(`"CT-9"`)}
			inv.Source = "ai_extraction"
		})

		JustBeforeEach(func() {
			err = db.SaveInvoice(inv)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should keep the whole record", func() {
				saved, getErr := db.GetInvoice("alice", "a1")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.InvoiceNumber).To(Equal("FE-a1"))
				Expect(saved.Total).To(Equal("10.00"))
				Expect(saved.Source).To(Equal("ai_extraction"))
				Expect(saved.RawText).To(Equal("texto a1"))
				Expect(saved.CreatedAt.Equal(inv.CreatedAt)).To(BeTrue())
				Expect(string(saved.Data.Extra["contract_number"])).To(Equal(`"CT-9"`))
			})
		})

		When("the id is already used", func() {
			BeforeEach(func() {
				Expect(db.SaveInvoice(stored("a1", "alice", time.Now()))).To(Succeed())
			})

			It("should return an error", func() {
				Expect(err).To(MatchError(ContainSubstring("already exists")))
			})
		})

		When("the id is empty", func() {
			BeforeEach(func() {
				inv.ID = ""
			})

			It("should return an error", func() {
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("GetInvoice", func() {
		BeforeEach(func() {
			Expect(db.SaveInvoice(stored("a1", "alice", time.Now()))).To(Succeed())
		})

		It("should return ErrNotFound for an unknown id", func() {
			_, err := db.GetInvoice("alice", "missing")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})

		It("should not expose invoices of other owners", func() {
			_, err := db.GetInvoice("bob", "a1")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})
	})

	Describe("ListRecent", func() {
		BeforeEach(func() {
			base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			for i := 1; i <= 4; i++ {
				Expect(db.SaveInvoice(stored(fmt.Sprintf("a%d", i), "alice", base.Add(time.Duration(i)*time.Hour)))).To(Succeed())
			}
			Expect(db.SaveInvoice(stored("b1", "bob", base))).To(Succeed())
		})

		It("should return the newest invoices first", func() {
			invoices, err := db.ListRecent("alice", 0)
			Expect(err).NotTo(HaveOccurred())
			ids := make([]string, 0, len(invoices))
			for _, inv := range invoices {
				ids = append(ids, inv.ID)
			}
			Expect(ids).To(Equal([]string{"a4", "a3", "a2", "a1"}))
		})

		It("should honor the limit", func() {
			invoices, err := db.ListRecent("alice", 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(invoices).To(HaveLen(2))
			Expect(invoices[0].ID).To(Equal("a4"))
		})

		It("should scope invoices to their owner", func() {
			invoices, err := db.ListRecent("bob", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(invoices).To(HaveLen(1))
			Expect(invoices[0].ID).To(Equal("b1"))
		})

		It("should return an empty list for an unknown owner", func() {
			invoices, err := db.ListRecent("carol", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(invoices).To(BeEmpty())
		})
	})

	Describe("DeleteInvoice", func() {
		BeforeEach(func() {
			Expect(db.SaveInvoice(stored("a1", "alice", time.Now()))).To(Succeed())
		})

		It("should remove the invoice and its index entry", func() {
			Expect(db.DeleteInvoice("alice", "a1")).To(Succeed())
			_, err := db.GetInvoice("alice", "a1")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
			Expect(db.SaveInvoice(stored("a1", "alice", time.Now()))).To(Succeed())
		})

		It("should return ErrNotFound for an unknown id", func() {
			err := db.DeleteInvoice("alice", "missing")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})
	})

	It("should persist across reopen", func() {
		Expect(db.SaveInvoice(stored("a1", "alice", time.Now()))).To(Succeed())
		Expect(db.Close()).To(Succeed())

		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
		saved, err := db.GetInvoice("alice", "a1")
		Expect(err).NotTo(HaveOccurred())
		Expect(saved.InvoiceNumber).To(Equal("FE-a1"))
	})
})

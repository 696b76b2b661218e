package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/invoice-extractor/internal/extraction"
	"github.com/zombor/invoice-extractor/internal/invoice"
	"github.com/zombor/invoice-extractor/internal/oracle"
	"github.com/zombor/invoice-extractor/internal/pipeline"
)

// fakeAssistant stands in for the language model agent
type fakeAssistant struct {
	extractErr   error
	extractCalls int
	lastHistory  []invoice.HistoryEntry
	question     string
}

func (f *fakeAssistant) Extract(_ context.Context, rawText string, history []invoice.HistoryEntry) (invoice.Record, error) {
	f.extractCalls++
	f.lastHistory = history
	if f.extractErr != nil {
		return invoice.Record{}, f.extractErr
	}
	return invoice.Record{}, fmt.Errorf("%w: no JSON object found in response", oracle.ErrMalformedReply)
}

func (f *fakeAssistant) Refine(_ context.Context, rawText string, initial invoice.Record) (invoice.Record, error) {
	refined := initial.Closed()
	refined.Currency = invoice.String("COP")
	refined.RawText = rawText
	return refined, nil
}

func (f *fakeAssistant) Answer(_ context.Context, rawText string, data map[string]any, question string, history []invoice.HistoryEntry) (string, error) {
	f.question = question
	return "Pagaste 1.190.000 COP a DISTRIBUIDORA ANDINA S.A.S.", nil
}

const integrationInvoice = `DISTRIBUIDORA ANDINA S.A.S
NIT: 900.123.456-7
Factura No. FE-2024001
Fecha: 15/03/2024
Subtotal: $1.000.000,00
IVA: $190.000,00
TOTAL A PAGAR: $1.190.000,00`

var _ = Describe("Integration", func() {
	var (
		db        *BoltDB
		store     *LocalStorage
		producer  *mockProducer
		assistant *fakeAssistant
		ghServer  *ghttp.Server
	)

	BeforeEach(func() {
		tempDir := GinkgoT().TempDir()

		var err error
		db, err = NewBoltDB(filepath.Join(tempDir, "test.db"))
		Expect(err).NotTo(HaveOccurred())
		store, err = NewLocalStorage(filepath.Join(tempDir, "invoices"))
		Expect(err).NotTo(HaveOccurred())

		producer = &mockProducer{text: integrationInvoice}
		assistant = &fakeAssistant{}
		processor := pipeline.New(extraction.New(), assistant,
			pipeline.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

		service := NewService(db, producer, processor, store, DefaultHistoryLimit)
		server := NewServer(service, BasicAuth{Username: "alice", Password: "secret"})

		ghServer = ghttp.NewServer()
		ghServer.RouteToHandler(http.MethodPost, anyPath, server.ServeHTTP)
		ghServer.RouteToHandler(http.MethodGet, anyPath, server.ServeHTTP)
	})

	AfterEach(func() {
		ghServer.Close()
		db.Close()
	})

	send := func(req *http.Request) *http.Response {
		req.SetBasicAuth("alice", "secret")
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	upload := func(mode string) ProcessResult {
		resp := send(uploadRequest(ghServer.URL()+"/api/invoices", map[string]string{"mode": mode}, "factura marzo.pdf", []byte("%PDF-1.4 fake")))
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		Expect(resp.Header.Get("Content-Type")).To(ContainSubstring("application/json"))
		var result ProcessResult
		decodeBody(resp, &result)
		return result
	}

	It("should extract, refine, store and answer questions about an invoice", func() {
		By("uploading in refine mode")
		first := upload("refine")
		Expect(first.SavedToDB).To(BeTrue())
		Expect(first.Source).To(Equal(pipeline.SourceAIRefinement))
		Expect(first.Notice).To(BeEmpty())
		Expect(*first.DataInitial.InvoiceNumber).To(Equal("FE-2024001"))
		Expect(first.DataInitial.Total.String()).To(Equal("1190000.00"))
		Expect(*first.DataRefined.Currency).To(Equal("COP"))
		Expect(assistant.lastHistory).To(BeEmpty())

		By("reading the stored invoice and its archived file")
		saved, err := db.GetInvoice("alice", first.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(saved.Supplier).To(Equal("DISTRIBUIDORA ANDINA S.A.S"))
		Expect(saved.Total).To(Equal("1190000.00"))
		Expect(saved.Source).To(Equal(pipeline.SourceAIRefinement))
		Expect(saved.ContentType).To(Equal("application/pdf"))
		Expect(saved.Filename).To(Equal(first.ID + "_factura_marzo.pdf"))
		data, err := store.Get(saved.Filename)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("%PDF-1.4 fake"))

		By("uploading a second invoice with the first one as history")
		assistant.extractErr = oracle.ErrUnavailable
		second := upload("ai")
		Expect(second.Source).To(Equal(pipeline.SourcePattern))
		Expect(second.Notice).To(Equal(FallbackNotice))
		Expect(assistant.lastHistory).To(HaveLen(1))
		Expect(assistant.lastHistory[0].InvoiceNumber).To(Equal("FE-2024001"))

		By("listing the history newest first")
		resp := send(mustRequest(http.MethodGet, ghServer.URL()+"/api/invoices", ""))
		var invoices []StoredInvoice
		decodeBody(resp, &invoices)
		Expect(invoices).To(HaveLen(2))
		Expect(invoices[0].ID).To(Equal(second.ID))

		By("asking about previous invoices")
		resp = send(mustRequest(http.MethodPost, ghServer.URL()+"/api/chat", `{"question":"¿Cuánto pagué?"}`))
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		var answer map[string]string
		decodeBody(resp, &answer)
		Expect(answer["answer"]).To(ContainSubstring("1.190.000"))
		Expect(assistant.question).To(Equal("[Usuario: alice] ¿Cuánto pagué?"))
	})

	It("should store the pattern result as JSON with null core fields", func() {
		producer.text = "Gracias por su compra"
		result := upload("pattern")
		saved, err := db.GetInvoice("alice", result.ID)
		Expect(err).NotTo(HaveOccurred())

		encoded, err := json.Marshal(saved.Data)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(encoded)).To(HavePrefix(`{"invoice_number":null,"date":null,"supplier":"Gracias por su compra"`))
	})
})

func mustRequest(method, url, body string) *http.Request {
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	Expect(err).NotTo(HaveOccurred())
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

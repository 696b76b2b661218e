package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/invoice-extractor/internal/invoice"
	"github.com/zombor/invoice-extractor/internal/pipeline"
	"github.com/zombor/invoice-extractor/internal/scanning"
)

var (
	pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	anyPath   = regexp.MustCompile(`^/`)
)

func uploadRequest(url string, fields map[string]string, filename string, data []byte) *http.Request {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		Expect(writer.WriteField(k, v)).To(Succeed())
	}
	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
	}
	Expect(writer.Close()).To(Succeed())

	req, err := http.NewRequest(http.MethodPost, url, body)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decodeBody(resp *http.Response, v any) {
	defer resp.Body.Close()
	Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
}

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		producer    *mockProducer
		processor   *mockProcessor
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	do := func(req *http.Request) *http.Response {
		if auth.enabled() && req.Header.Get("Authorization") == "" {
			req.SetBasicAuth(auth.Username, auth.Password)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	get := func(path string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+path, nil)
		Expect(err).NotTo(HaveOccurred())
		return do(req)
	}

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		producer = newMockProducer()
		processor = newMockProcessor()
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		service := NewServiceWithDeps(db, producer, processor, storage, 5,
			&mockIDGenerator{}, &mockTimeSource{now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)})
		server := NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions} {
			ghttpServer.RouteToHandler(method, anyPath, server.ServeHTTP)
		}
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	Describe("GET /api/health", func() {
		It("should report ok", func() {
			resp := get("/api/health")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var body map[string]string
			decodeBody(resp, &body)
			Expect(body).To(HaveKeyWithValue("status", "ok"))
		})
	})

	Describe("OPTIONS preflight", func() {
		It("should answer with CORS headers", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/api/invoices", nil)
			Expect(err).NotTo(HaveOccurred())
			resp := do(req)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("DELETE"))
		})
	})

	Describe("POST /api/invoices", func() {
		var (
			fields   map[string]string
			filename string
			data     []byte
			resp     *http.Response
		)

		BeforeEach(func() {
			fields = map[string]string{"mode": "pattern"}
			filename = "factura.png"
			data = pngHeader
		})

		JustBeforeEach(func() {
			resp = do(uploadRequest(ghttpServer.URL()+"/api/invoices", fields, filename, data))
		})

		When("the upload succeeds", func() {
			It("should return the processing result", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				var result ProcessResult
				decodeBody(resp, &result)
				Expect(result.ID).To(Equal("id-1"))
				Expect(result.Mode).To(Equal(pipeline.ModePattern))
				Expect(result.Source).To(Equal(pipeline.SourcePattern))
				Expect(result.SavedToDB).To(BeTrue())
				Expect(result.DataInitial.InvoiceNumber).To(Equal(invoice.String("FE-1")))
				Expect(result.Notice).To(BeEmpty())
			})

			It("should detect the content type from the bytes", func() {
				resp.Body.Close()
				Expect(db.invoices[DefaultOwner+"/id-1"].ContentType).To(Equal("image/png"))
			})
		})

		When("an AI mode falls back to patterns", func() {
			BeforeEach(func() {
				fields["mode"] = "refine"
			})

			It("should include the notice", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				var result ProcessResult
				decodeBody(resp, &result)
				Expect(result.Notice).To(Equal(FallbackNotice))
				Expect(result.DataRefined).To(BeNil())
			})
		})

		When("saving is disabled", func() {
			BeforeEach(func() {
				fields["save"] = "false"
			})

			It("should not persist the invoice", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				resp.Body.Close()
				Expect(db.invoices).To(BeEmpty())
				Expect(storage.files).To(BeEmpty())
			})
		})

		When("the mode is unknown", func() {
			BeforeEach(func() {
				fields["mode"] = "magic"
			})

			It("should return bad request", func() {
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("save is not a boolean", func() {
			BeforeEach(func() {
				fields["save"] = "quizas"
			})

			It("should return bad request", func() {
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("no file is sent", func() {
			BeforeEach(func() {
				filename = ""
			})

			It("should return bad request", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				var body map[string]string
				decodeBody(resp, &body)
				Expect(body).To(HaveKeyWithValue("error", "No file provided"))
			})
		})

		When("the document cannot be read", func() {
			BeforeEach(func() {
				producer.err = scanning.ErrUnsupportedFormat
			})

			It("should return unprocessable entity", func() {
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
			})
		})
	})

	Describe("GET /api/invoices", func() {
		BeforeEach(func() {
			for _, id := range []string{"a", "b", "c"} {
				Expect(db.SaveInvoice(&StoredInvoice{ID: id, Owner: DefaultOwner, CreatedAt: time.Now()})).To(Succeed())
			}
		})

		It("should list the invoices", func() {
			resp := get("/api/invoices")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var invoices []StoredInvoice
			decodeBody(resp, &invoices)
			Expect(invoices).To(HaveLen(3))
		})

		It("should honor the limit", func() {
			resp := get("/api/invoices?limit=2")
			var invoices []StoredInvoice
			decodeBody(resp, &invoices)
			Expect(invoices).To(HaveLen(2))
		})

		It("should reject a negative limit", func() {
			resp := get("/api/invoices?limit=-1")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.listErr = errors.New("boom")
			})

			It("should return internal server error", func() {
				resp := get("/api/invoices")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			})
		})
	})

	Describe("single invoice routes", func() {
		BeforeEach(func() {
			storage.files["id-7_f.png"] = pngHeader
			Expect(db.SaveInvoice(&StoredInvoice{
				ID:            "id-7",
				Owner:         DefaultOwner,
				InvoiceNumber: "FE-7",
				Filename:      "id-7_f.png",
				ContentType:   "image/png",
			})).To(Succeed())
		})

		It("should return an invoice", func() {
			resp := get("/api/invoices/id-7")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var inv StoredInvoice
			decodeBody(resp, &inv)
			Expect(inv.InvoiceNumber).To(Equal("FE-7"))
		})

		It("should return not found for an unknown invoice", func() {
			resp := get("/api/invoices/nope")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			var body map[string]string
			decodeBody(resp, &body)
			Expect(body).To(HaveKeyWithValue("error", "Invoice not found"))
		})

		It("should serve the archived file", func() {
			resp := get("/api/invoices/id-7/file")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body).To(Equal(pngHeader))
		})

		It("should delete the invoice", func() {
			req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+"/api/invoices/id-7", nil)
			Expect(err).NotTo(HaveOccurred())
			resp := do(req)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.invoices).To(BeEmpty())
			Expect(storage.files).To(BeEmpty())
		})
	})

	Describe("POST /api/chat", func() {
		post := func(body string) *http.Response {
			req, err := http.NewRequest(http.MethodPost, ghttpServer.URL()+"/api/chat", strings.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", "application/json")
			return do(req)
		}

		It("should answer about the supplied invoice", func() {
			resp := post(`{"question":"¿Total?","raw_text":"FACTURA","data":{"total":"10.00"}}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var body map[string]string
			decodeBody(resp, &body)
			Expect(body).To(HaveKeyWithValue("answer", "Respuesta"))
			Expect(processor.askCtx.RawText).To(Equal("FACTURA"))
		})

		It("should give the no-history answer without an invoice", func() {
			resp := post(`{"question":"¿Total?"}`)
			var body map[string]string
			decodeBody(resp, &body)
			Expect(body).To(HaveKeyWithValue("answer", NoHistoryAnswer))
		})

		It("should reject a missing question", func() {
			resp := post(`{"raw_text":"FACTURA"}`)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should reject a blank question without asking the model", func() {
			resp := post(`{"question":"   \n\t","raw_text":"FACTURA","data":{"total":"10.00"}}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			var body map[string]string
			decodeBody(resp, &body)
			Expect(body).To(HaveKeyWithValue("error", "question is required"))
			Expect(processor.asked).To(BeFalse())
		})

		It("should reject an invalid body", func() {
			resp := post(`{`)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should return bad gateway when the model fails", func() {
			processor.askErr = errors.New("unreachable")
			resp := post(`{"question":"¿Total?","raw_text":"FACTURA","data":{"total":"10.00"}}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
			var body map[string]string
			decodeBody(resp, &body)
			Expect(body).To(HaveKeyWithValue("error", "No se pudo obtener una respuesta del modelo."))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "alice", Password: "secret"}
		})

		It("should reject requests without credentials", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/invoices")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Invoice Extractor"))
		})

		It("should reject a wrong password", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/invoices", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("alice", "nope")
			resp := do(req)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("should keep the health check public", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/health")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should store uploads under the user", func() {
			resp := do(uploadRequest(ghttpServer.URL()+"/api/invoices", map[string]string{"mode": "pattern"}, "f.png", pngHeader))
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			Expect(db.invoices).To(HaveKey("alice/id-1"))
		})
	})
})

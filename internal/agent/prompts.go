package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zombor/invoice-extractor/internal/invoice"
)

// extractionSystemPrompt sets up direct extraction of every field from the OCR text.
const extractionSystemPrompt = "Eres un asistente experto en analizar facturas. " +
	"Analiza el texto OCR completo de una factura y extrae TODOS los campos relevantes, " +
	"buscando en cualquier parte del texto: encabezados, pies de página y secciones intermedias, " +
	"incluidos campos como 'PERÍODO', 'FECHA' o 'FECHA DE EMISIÓN'. " +
	"Si encuentras 'PERÍODO: SEPTIEMBRE - 2025', asígnalo al campo 'date' como '2025-09' o '2025-09-01'. " +
	"El campo 'invoice_number' debe ser el identificador de la factura (un número o código alfanumérico) " +
	"y NUNCA el nombre genérico del documento (por ejemplo, 'CUPÓN PARA PAGO MES ANTERIOR' no es un número). " +
	"Si solo encuentras un texto descriptivo, ponlo en 'document_title' y deja 'invoice_number' en null. " +
	"Puedes añadir campos adicionales cuando haya información importante para entender la factura " +
	"(por ejemplo 'contract_number', 'billing_period', 'service_name', 'customer_name', 'address'). " +
	"Responde ÚNICAMENTE con un JSON válido, sin texto adicional."

const extractionShape = `{
  "invoice_number": string | null,   // identificador: "FACTURA N°", "NÚMERO", "NO.", etc.
  "date": string | null,             // fecha de emisión o período; formato YYYY-MM-DD o YYYY-MM
  "supplier": string | null,         // empresa o entidad que EMITE la factura
  "nit": string | null,              // NIT, RUC, RFC o identificación fiscal
  "subtotal": number | null,         // subtotal antes de impuestos
  "tax": number | null,              // IVA o impuestos
  "total": number | null,            // total a pagar
  "currency": string | null,         // COP, USD, EUR, etc.
  "payment_terms": string | null,    // condiciones de pago
  "raw_text": string,                // el texto OCR completo
  "document_title": string | null    // título o descripción general del documento
}`

// refinementSystemPrompt asks for correction of an initial pattern-based extraction.
const refinementSystemPrompt = "Eres un asistente experto en facturas. " +
	"Recibirás el texto OCR completo de una factura y un JSON con una extracción inicial. " +
	"Debes corregir, completar y normalizar los campos de la factura. " +
	"Responde ÚNICAMENTE con un JSON válido, sin texto adicional."

const refinementShape = `{
  "invoice_number": string | null,
  "date": string | null,            // formato YYYY-MM-DD si es posible
  "supplier": string | null,
  "nit": string | null,
  "subtotal": number | null,
  "tax": number | null,
  "total": number | null,
  "currency": string | null,        // por ejemplo "COP" o "USD"
  "payment_terms": string | null,
  "raw_text": string                // el texto OCR completo
}`

// answerSystemPrompt restricts answers to the supplied invoice context.
const answerSystemPrompt = "Eres un asistente que responde preguntas sobre facturas usando ÚNICAMENTE " +
	"la información proporcionada (texto OCR y datos estructurados). " +
	"Si la respuesta no está en la información, di claramente que no estás seguro. " +
	"Responde siempre en español."

// maxPromptHistory bounds how many previous invoices are summarized in a prompt.
const maxPromptHistory = 5

func buildExtractionPrompt(rawText string, history []invoice.HistoryEntry) string {
	var b strings.Builder
	b.WriteString("Texto OCR completo de la factura:\n")
	b.WriteString("================================\n")
	b.WriteString(rawText)
	b.WriteString("\n\n")

	if summary := summarizeHistory(history); summary != "" {
		b.WriteString("Facturas procesadas anteriormente por el mismo usuario (solo como referencia de proveedores y formatos):\n")
		b.WriteString(summary)
		b.WriteString("\n")
	}

	b.WriteString("Analiza este texto y extrae TODOS los campos de la factura.\n\n")
	b.WriteString("Devuelve un JSON con al menos estos campos:\n")
	b.WriteString(extractionShape)
	b.WriteString("\n\n")
	b.WriteString("Si ves otros datos claramente importantes (número de contrato, período de facturación, servicio, " +
		"cliente, dirección, etc.), añade campos con nombres claros en inglés y en snake_case " +
		`(por ejemplo "contract_number", "billing_period", "service_name").` + "\n\n")
	b.WriteString("IMPORTANTE: 'PERÍODO: SEPTIEMBRE - 2025' o similar va en 'date'; también 'FECHA', " +
		"'FECHA DE EMISIÓN' o 'FECHA DE FACTURACIÓN'. Responde solo con JSON puro, sin comentarios ni texto fuera del JSON.")
	return b.String()
}

func buildRefinementPrompt(rawText string, initial invoice.Record) (string, error) {
	initialJSON, err := json.MarshalIndent(initial, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding initial record: %w", err)
	}

	var b strings.Builder
	b.WriteString("Texto OCR de la factura:\n")
	b.WriteString("------------------------\n")
	b.WriteString(rawText)
	b.WriteString("\n\n")
	b.WriteString("Datos extraídos inicialmente (pueden contener errores o campos vacíos):\n")
	b.WriteString("----------------------------------------------------------------------\n")
	b.Write(initialJSON)
	b.WriteString("\n\n")
	b.WriteString("Devuelve un JSON con esta estructura (rellena lo que puedas, deja null si no sabes):\n")
	b.WriteString(refinementShape)
	b.WriteString("\nResponde solo con JSON puro, sin comentarios ni texto fuera del JSON.")
	return b.String(), nil
}

func buildAnswerPrompt(rawText string, data map[string]any, question string, history []invoice.HistoryEntry) (string, error) {
	dataJSON, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding structured data: %w", err)
	}

	var b strings.Builder
	b.WriteString("Contexto de la factura:\n")
	b.WriteString("-----------------------\n")
	b.WriteString("Datos estructurados de la factura:\n")
	b.Write(dataJSON)
	b.WriteString("\n\nTexto OCR completo:\n")
	b.WriteString(rawText)
	b.WriteString("\n\n")

	if summary := summarizeHistory(history); summary != "" {
		b.WriteString("Facturas recientes del usuario:\n")
		b.WriteString(summary)
		b.WriteString("\n")
	}

	b.WriteString("Pregunta del usuario: ")
	b.WriteString(question)
	b.WriteString("\n\nResponde de forma clara y breve.")
	return b.String(), nil
}

// summarizeHistory renders one line per previous invoice, newest first.
func summarizeHistory(history []invoice.HistoryEntry) string {
	if len(history) == 0 {
		return ""
	}
	if len(history) > maxPromptHistory {
		history = history[:maxPromptHistory]
	}

	var b strings.Builder
	for _, h := range history {
		fmt.Fprintf(&b, "- Factura %s | proveedor: %s | fecha: %s",
			orNA(h.InvoiceNumber), orNA(h.Supplier), orNA(h.Date))
		if h.Data.Total != nil {
			fmt.Fprintf(&b, " | total: %s", h.Data.Total.String())
		}
		if h.Data.Currency != nil {
			fmt.Fprintf(&b, " %s", *h.Data.Currency)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

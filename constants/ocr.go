package constants

// OCR method labels persisted on the job document.
const (
	OCRMethodTextLayer = "text-layer" // embedded PDF text layer accepted by the quality gate
	OCRMethodSync      = "ocr-sync"   // low-latency synchronous tier
	OCRMethodBatch     = "ocr-batch"  // asynchronous/batch tier
)

// AcceptedMIME lists the upload content types the ingest path allows.
var AcceptedMIME = []string{"application/pdf"}

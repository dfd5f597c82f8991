package ir

// Direction names which way a conversion ran.
type Direction string

const (
	// ToStructural converts a PDF into structural JSON text.
	ToStructural Direction = "to_structural"

	// ToBinary converts structural JSON text into a PDF.
	ToBinary Direction = "to_binary"
)

// ConversionRecord is one journal entry, written after every conversion
// attempt whether it succeeded or not.
type ConversionRecord struct {
	ID           string    `json:"id"`
	Seq          int64     `json:"seq"`
	Direction    Direction `json:"direction"`
	Outcome      string    `json:"outcome"` // "ok" or a FailureKind
	ExitCode     int       `json:"exit_code"`
	InputDigest  string    `json:"input_digest"`
	InputBytes   int       `json:"input_bytes"`
	OutputDigest string    `json:"output_digest,omitempty"`
	OutputBytes  int       `json:"output_bytes"`
	Diagnostics  string    `json:"diagnostics,omitempty"`
}

// OutcomeOK is the ConversionRecord.Outcome of a successful conversion.
const OutcomeOK = "ok"

package scanning

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
)

// Verdict is the outcome of scanning one file.
type Verdict struct {
	Clean  bool
	Reason string
}

// Engine scans a file on disk.
type Engine interface {
	Scan(ctx context.Context, path string) (Verdict, error)
}

// EICAR is the industry standard antivirus test string.
const EICAR = `X5O!P%@AP[4\PZX54(P^)7CC)7}$EICAR-STANDARD-ANTIVIRUS-TEST-FILE!$H+H*`

// SignatureEngine streams the file looking for known byte signatures.
type SignatureEngine struct {
	signatures map[string][]byte
	bufSize    int
}

// NewSignatureEngine always includes the EICAR test signature.
func NewSignatureEngine(extra map[string][]byte) *SignatureEngine {
	sigs := map[string][]byte{"EICAR-Test-File": []byte(EICAR)}
	for name, sig := range extra {
		if len(sig) > 0 {
			sigs[name] = sig
		}
	}
	return &SignatureEngine{signatures: sigs, bufSize: 64 << 10}
}

func (e *SignatureEngine) Scan(ctx context.Context, path string) (Verdict, error) {
	f, err := os.Open(path)
	if err != nil {
		return Verdict{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	longest := 0
	for _, s := range e.signatures {
		longest = max(longest, len(s))
	}

	// keep longest-1 bytes from the previous read so signatures spanning
	// two reads are still found
	buf := make([]byte, 0, e.bufSize+longest)
	chunk := make([]byte, e.bufSize)
	for {
		if err := ctx.Err(); err != nil {
			return Verdict{}, err
		}
		n, err := f.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for name, sig := range e.signatures {
				if bytes.Contains(buf, sig) {
					return Verdict{Clean: false, Reason: "signature matched: " + name}, nil
				}
			}
			if keep := longest - 1; len(buf) > keep {
				buf = append(buf[:0], buf[len(buf)-keep:]...)
			}
		}
		if err == io.EOF {
			return Verdict{Clean: true}, nil
		}
		if err != nil {
			return Verdict{}, fmt.Errorf("read %s: %w", path, err)
		}
	}
}

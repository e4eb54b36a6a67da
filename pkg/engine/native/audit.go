package native

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/datacloak/workbench/pkg/engine"
)

// auditMaxFileSize caps how much of a file the audit will read.
const auditMaxFileSize = 1 << 20

// AuditSecurity walks the files under path (or scans path itself if it is a
// regular file), runs PII detection over each readable text file, and
// aggregates the findings per file and PII class. Binary and oversized files
// are skipped, not failed.
func (e *Engine) AuditSecurity(ctx context.Context, path string) (*engine.AuditResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("native: audit path: %w", err)
	}

	result := &engine.AuditResult{Path: path}

	scanFile := func(p string) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		detections, skipped, err := e.auditFile(ctx, p)
		if err != nil {
			return err
		}
		if skipped {
			result.FilesSkipped++
			return nil
		}
		result.FilesScanned++

		counts := make(map[string]int)
		for _, d := range detections {
			counts[d.PIIType]++
		}
		for _, d := range detections {
			if counts[d.PIIType] == 0 {
				continue
			}
			result.Findings = append(result.Findings, engine.FileFinding{
				Path:     p,
				PIIType:  d.PIIType,
				Count:    counts[d.PIIType],
				Severity: severityOf(d.PIIType),
			})
			result.Violations += counts[d.PIIType]
			counts[d.PIIType] = 0
		}
		return nil
	}

	if info.IsDir() {
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			return scanFile(p)
		})
	} else {
		err = scanFile(path)
	}
	if err != nil {
		return nil, err
	}

	result.CompletedAt = time.Now().UTC()
	return result, nil
}

func (e *Engine) auditFile(ctx context.Context, path string) ([]engine.Detection, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, false, fmt.Errorf("native: stat %s: %w", path, err)
	}
	if info.Size() > auditMaxFileSize {
		return nil, true, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("native: read %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		return nil, true, nil
	}

	text := string(data)
	if len(text) > e.cfg.MaxTextLength {
		text = text[:e.cfg.MaxTextLength]
	}

	detections, err := e.DetectPII(ctx, text)
	if err != nil {
		return nil, false, err
	}
	return detections, false, nil
}

// severityOf ranks PII classes for audit reporting.
func severityOf(piiType string) string {
	switch piiType {
	case TypeSSN, TypeCreditCard:
		return "critical"
	case TypeEmail, TypePhone:
		return "high"
	default:
		return "medium"
	}
}

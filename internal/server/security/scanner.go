// Package security classifies uploaded chunks by filename, declared content
// type and content prefix. Findings only ever raise the risk level.
package security

import (
	"bytes"
	"fmt"
	"mime"
	"path"
	"slices"
	"strings"

	"github.com/dmitrijs2005/chunkkeeper/internal/common"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/models"
)

const (
	WarnExecutable    = "Executable file detected"
	WarnScanFailed    = "Security scan failed - file uploaded without verification"
	ThreatAutoExecute = "File type is executed automatically by the operating system"
	ThreatScript      = "Script file with potential for malicious execution"
	ThreatNaming      = "Executable with suspicious naming pattern"
	ThreatMultiExt    = "Multiple file extensions detected"
	ThreatBinaryText  = "Suspicious binary content in text file"
	ThreatDisguised   = "Executable content does not match declared type"
)

// DefaultPrefixSize bounds how much of a chunk the content phase looks at.
const DefaultPrefixSize = 8 << 10

var (
	autoExecuteExt = []string{".scr", ".pif", ".com", ".cpl", ".hta", ".lnk"}
	executableExt  = []string{".exe", ".dll", ".vst", ".vst3", ".component", ".aaxplugin",
		".msi", ".dmg", ".pkg", ".app", ".deb", ".rpm", ".apk", ".jar"}
	scriptExt = []string{".bat", ".cmd", ".sh", ".ps1", ".vbs", ".wsf"}

	executableTypes = []string{"application/x-msdownload", "application/x-dosexec",
		"application/x-executable", "application/vnd.microsoft.portable-executable", "application/x-msi"}
	scriptTypes = []string{"application/x-sh", "text/x-shellscript", "application/x-bat",
		"application/x-msdos-program", "text/x-powershell"}

	textExt     = []string{".txt", ".csv", ".md", ".json", ".xml", ".log"}
	documentExt = []string{".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".rtf", ".odt",
		".txt", ".csv", ".html", ".htm", ".zip", ".rar", ".7z"}
	mediaExt = []string{".wav", ".mp3", ".flac", ".aiff", ".aif", ".ogg", ".m4a", ".mid", ".png", ".jpg", ".jpeg",
		".gif", ".bmp", ".mp4", ".mov", ".avi"}

	suspiciousWords = []string{"virus", "trojan", "malware", "keygen", "crack", "ransom", "backdoor", "exploit"}

	compoundExt = []string{".tar.gz", ".tar.bz2", ".tar.xz", ".tar.zst"}

	peMagic  = []byte("MZ")
	elfMagic = []byte("\x7fELF")
	machO    = [][]byte{{0xfe, 0xed, 0xfa, 0xce}, {0xfe, 0xed, 0xfa, 0xcf}, {0xcf, 0xfa, 0xed, 0xfe}, {0xce, 0xfa, 0xed, 0xfe}}
)

// Input is what the scanner sees for one chunk.
type Input struct {
	Filename    string
	ContentType string
	// ChunkNumber is 1-based; magic numbers are only meaningful at the
	// start of the file, so later chunks skip signature checks. Zero is
	// treated as the start of the file.
	ChunkNumber int
	Data        []byte
}

// BlockedError rejects an upload with the scanner verdict attached.
type BlockedError struct {
	Report *models.SecurityReport
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("upload blocked by security scan: risk %s: %s",
		e.Report.RiskLevel, strings.Join(e.Report.Threats, "; "))
}

func (e *BlockedError) Is(target error) bool { return target == common.ErrSecurityBlocked }

// Scanner runs the filename phase and, when that phase is not already
// high or critical, the content phase.
type Scanner struct {
	prefixSize int
}

func NewScanner(prefixSize int) *Scanner {
	if prefixSize <= 0 {
		prefixSize = DefaultPrefixSize
	}
	return &Scanner{prefixSize: prefixSize}
}

// finding accumulates the verdict of both phases.
type finding struct {
	risk         models.RiskLevel
	warnings     []string
	threats      []string
	verification bool
}

func (f *finding) raise(level models.RiskLevel) {
	f.risk = models.MaxRisk(f.risk, level)
}

func (f *finding) threat(level models.RiskLevel, msg string) {
	f.raise(level)
	if !slices.Contains(f.threats, msg) {
		f.threats = append(f.threats, msg)
	}
}

func (f *finding) warn(level models.RiskLevel, msg string) {
	f.raise(level)
	if !slices.Contains(f.warnings, msg) {
		f.warnings = append(f.warnings, msg)
	}
}

// inspectContent is a seam for tests.
var inspectContent = defaultInspectContent

// Scan never fails. A panic inside either phase degrades the report to
// unknown risk with a warning instead of rejecting the upload.
func (s *Scanner) Scan(in Input) (report *models.SecurityReport) {
	defer func() {
		if r := recover(); r != nil {
			report = degraded()
		}
	}()

	f := &finding{risk: models.RiskSafe}
	scanName(f, in.Filename, in.ContentType)

	if f.risk == models.RiskSafe || f.risk == models.RiskMedium {
		prefix := in.Data
		if len(prefix) > s.prefixSize {
			prefix = prefix[:s.prefixSize]
		}
		inspectContent(f, in, prefix)
	}

	return &models.SecurityReport{
		RiskLevel:            f.risk,
		Safe:                 f.risk == models.RiskSafe,
		Blocked:              f.risk == models.RiskCritical,
		RequiresVerification: f.verification || f.risk == models.RiskHigh || f.risk == models.RiskCritical,
		Warnings:             orEmpty(f.warnings),
		Threats:              orEmpty(f.threats),
	}
}

func degraded() *models.SecurityReport {
	return &models.SecurityReport{
		RiskLevel: models.RiskUnknown,
		Safe:      true,
		Warnings:  []string{WarnScanFailed},
		Threats:   []string{},
	}
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func scanName(f *finding, filename, contentType string) {
	name := strings.ToLower(path.Base(strings.ReplaceAll(filename, "\\", "/")))
	ext := path.Ext(name)
	mediaType := baseMediaType(contentType)

	switch {
	case slices.Contains(autoExecuteExt, ext):
		f.threat(models.RiskCritical, ThreatAutoExecute)
	case slices.Contains(scriptExt, ext) || slices.Contains(scriptTypes, mediaType):
		f.threat(models.RiskHigh, ThreatScript)
	case slices.Contains(executableExt, ext) || slices.Contains(executableTypes, mediaType):
		f.warn(models.RiskMedium, WarnExecutable)
		f.verification = true
	}

	executable := slices.Contains(executableExt, ext) || slices.Contains(autoExecuteExt, ext) ||
		slices.Contains(scriptExt, ext)
	if executable {
		stem := strings.TrimSuffix(name, ext)
		for _, w := range suspiciousWords {
			if strings.Contains(stem, w) {
				f.threat(models.RiskHigh, ThreatNaming)
				break
			}
		}
	}

	if hasMultipleExtensions(name) {
		f.threat(models.RiskHigh, ThreatMultiExt)
	}
}

// hasMultipleExtensions reports names like "song.mp3.exe": the suffix
// before the last one is itself a known file type. Leading dots (hidden
// files) and compound archive suffixes do not count.
func hasMultipleExtensions(name string) bool {
	name = strings.TrimLeft(name, ".")
	for _, c := range compoundExt {
		if strings.HasSuffix(name, c) {
			return false
		}
	}
	parts := strings.Split(name, ".")
	if len(parts) < 3 || parts[len(parts)-1] == "" {
		return false
	}
	inner := "." + parts[len(parts)-2]
	return slices.Contains(documentExt, inner) || slices.Contains(mediaExt, inner) ||
		slices.Contains(executableExt, inner) || slices.Contains(autoExecuteExt, inner) ||
		slices.Contains(scriptExt, inner)
}

func baseMediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

func defaultInspectContent(f *finding, in Input, prefix []byte) {
	if in.ChunkNumber > 1 || !isNativeExecutable(prefix) {
		return
	}
	mediaType := baseMediaType(in.ContentType)
	ext := strings.ToLower(path.Ext(in.Filename))

	switch {
	case strings.HasPrefix(mediaType, "text/") || slices.Contains(textExt, ext):
		f.threat(models.RiskHigh, ThreatBinaryText)
	case declaredAsMedia(mediaType, ext):
		f.threat(models.RiskHigh, ThreatDisguised)
	}
}

func declaredAsMedia(mediaType, ext string) bool {
	for _, p := range []string{"audio/", "image/", "video/"} {
		if strings.HasPrefix(mediaType, p) {
			return true
		}
	}
	if mediaType == "application/pdf" {
		return true
	}
	return slices.Contains(mediaExt, ext) || ext == ".pdf"
}

func isNativeExecutable(prefix []byte) bool {
	if bytes.HasPrefix(prefix, peMagic) || bytes.HasPrefix(prefix, elfMagic) {
		return true
	}
	for _, m := range machO {
		if bytes.HasPrefix(prefix, m) {
			return true
		}
	}
	return false
}

// Package shape applies response-mode shaping to messages and tasks at the
// tool boundary. Shaping is a pure transform over already-loaded rows; the
// same module serves both read_messages and list_tasks so the four modes stay
// symmetric.
package shape

import (
	"crypto/sha256"
	"encoding/hex"
	"unicode/utf8"

	apperrors "github.com/caephub/caephub/internal/common/errors"
	"github.com/caephub/caephub/internal/hub/models"
)

// Mode is one of the four response-shape levels, smallest last.
type Mode string

const (
	ModeFull    Mode = "full"
	ModeCompact Mode = "compact"
	ModeTiny    Mode = "tiny"
	ModeNano    Mode = "nano"
)

const (
	previewChars    = 180
	digestChars     = 16
	nanoDigestChars = 12
)

// ParseMode validates a response_mode argument; empty defaults to compact.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeCompact, nil
	case ModeFull, ModeCompact, ModeTiny, ModeNano:
		return Mode(s), nil
	}
	return "", apperrors.Validation("response_mode must be one of: full, compact, tiny, nano")
}

// Digest returns the first n hex chars of the SHA-256 digest of s.
func Digest(s string, n int) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:n]
}

// Preview truncates s to at most n chars. Truncation happens on rune
// boundaries so a multibyte rune at the limit is never split.
func Preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for r := 0; r < n; r++ {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s[:i]
}

// Chars counts chars, not bytes.
func Chars(s string) int {
	return utf8.RuneCountInString(s)
}

func boolFlag(b bool) int {
	if b {
		return 1
	}
	return 0
}

// BlobRefInfo annotates a message whose content is a blob-ref envelope.
type BlobRefInfo struct {
	Hash          string `json:"hash"`
	DeclaredChars int    `json:"declared_chars"`
	Resolved      bool   `json:"resolved"`
	Codec         string `json:"codec,omitempty"`
	IntegrityOK   bool   `json:"integrity_ok"`
}

// MessageFull is the full-mode message payload.
type MessageFull struct {
	*models.Message
	BlobRef         *BlobRefInfo `json:"blob_ref,omitempty"`
	ResolvedContent string       `json:"resolved_content,omitempty"`
}

// MessageCompact carries routing fields, a content preview and a digest.
type MessageCompact struct {
	ID        int64        `json:"id"`
	FromAgent string       `json:"from_agent"`
	ToAgent   string       `json:"to_agent,omitempty"`
	Preview   string       `json:"preview"`
	Digest    string       `json:"digest"`
	Chars     int          `json:"chars"`
	Read      bool         `json:"read"`
	CreatedAt int64        `json:"created_at"`
	TraceID   string       `json:"trace_id,omitempty"`
	BlobRef   *BlobRefInfo `json:"blob_ref,omitempty"`
}

// MessageTiny carries routing fields, char count and digest without a preview.
type MessageTiny struct {
	ID        int64  `json:"id"`
	FromAgent string `json:"from_agent"`
	ToAgent   string `json:"to_agent,omitempty"`
	Digest    string `json:"digest"`
	Chars     int    `json:"chars"`
	Read      bool   `json:"read"`
	CreatedAt int64  `json:"created_at"`
}

// MessageNano is the tightest routing-loop shape: single-letter keys,
// 12-char digest, flags as 0/1.
type MessageNano struct {
	I int64  `json:"i"`           // id
	F string `json:"f"`           // from_agent
	O string `json:"o,omitempty"` // to_agent
	N int    `json:"n"`           // content chars
	D string `json:"d"`           // digest
	R int    `json:"r"`           // read flag
	T int64  `json:"t"`           // created_at ms
}

// ShapedMessage renders one message in the requested mode. content is the
// effective content: resolved_content when a blob ref was resolved, the raw
// content otherwise.
func ShapedMessage(msg *models.Message, mode Mode, content string, ref *BlobRefInfo, resolved string) any {
	switch mode {
	case ModeFull:
		return &MessageFull{Message: msg, BlobRef: ref, ResolvedContent: resolved}
	case ModeTiny:
		return &MessageTiny{
			ID:        msg.ID,
			FromAgent: msg.FromAgent,
			ToAgent:   msg.ToAgent,
			Digest:    Digest(content, digestChars),
			Chars:     Chars(content),
			Read:      msg.Read,
			CreatedAt: msg.CreatedAt,
		}
	case ModeNano:
		return &MessageNano{
			I: msg.ID,
			F: msg.FromAgent,
			O: msg.ToAgent,
			N: Chars(content),
			D: Digest(content, nanoDigestChars),
			R: boolFlag(msg.Read),
			T: msg.CreatedAt,
		}
	default:
		return &MessageCompact{
			ID:        msg.ID,
			FromAgent: msg.FromAgent,
			ToAgent:   msg.ToAgent,
			Preview:   Preview(content, previewChars),
			Digest:    Digest(content, digestChars),
			Chars:     Chars(content),
			Read:      msg.Read,
			CreatedAt: msg.CreatedAt,
			TraceID:   msg.TraceID,
			BlobRef:   ref,
		}
	}
}

// TaskCompact carries the routing fields of a task plus a description preview.
type TaskCompact struct {
	ID            int64    `json:"id"`
	Title         string   `json:"title"`
	Status        string   `json:"status"`
	Priority      string   `json:"priority"`
	AssignedTo    string   `json:"assigned_to,omitempty"`
	CreatedBy     string   `json:"created_by,omitempty"`
	Namespace     string   `json:"namespace,omitempty"`
	ExecutionMode string   `json:"execution_mode,omitempty"`
	DependsOn     []int64  `json:"depends_on,omitempty"`
	Preview       string   `json:"preview,omitempty"`
	Digest        string   `json:"digest"`
	CreatedAt     int64    `json:"created_at"`
	UpdatedAt     int64    `json:"updated_at"`
	Confidence    *float64 `json:"confidence,omitempty"`
}

// TaskTiny drops the preview and dependency list.
type TaskTiny struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	Priority   string `json:"priority"`
	AssignedTo string `json:"assigned_to,omitempty"`
	Digest     string `json:"digest"`
	Chars      int    `json:"chars"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
}

// TaskNano is the tightest task shape.
type TaskNano struct {
	I int64  `json:"i"`           // id
	S string `json:"s"`           // status
	P string `json:"p"`           // priority
	A string `json:"a,omitempty"` // assigned_to
	D string `json:"d"`           // digest
	T int64  `json:"t"`           // created_at ms
	U int64  `json:"u"`           // updated_at ms
	V int    `json:"v"`           // verification_passed flag
}

// ShapedTask renders one task in the requested mode.
func ShapedTask(task *models.Task, mode Mode) any {
	body := task.Title + "\n" + task.Description
	switch mode {
	case ModeFull:
		return task
	case ModeTiny:
		return &TaskTiny{
			ID:         task.ID,
			Title:      Preview(task.Title, previewChars),
			Status:     string(task.Status),
			Priority:   string(task.Priority),
			AssignedTo: task.AssignedTo,
			Digest:     Digest(body, digestChars),
			Chars:      Chars(task.Description),
			CreatedAt:  task.CreatedAt,
			UpdatedAt:  task.UpdatedAt,
		}
	case ModeNano:
		verified := task.VerificationPassed != nil && *task.VerificationPassed
		return &TaskNano{
			I: task.ID,
			S: string(task.Status),
			P: string(task.Priority),
			A: task.AssignedTo,
			D: Digest(body, nanoDigestChars),
			T: task.CreatedAt,
			U: task.UpdatedAt,
			V: boolFlag(verified),
		}
	default:
		return &TaskCompact{
			ID:            task.ID,
			Title:         task.Title,
			Status:        string(task.Status),
			Priority:      string(task.Priority),
			AssignedTo:    task.AssignedTo,
			CreatedBy:     task.CreatedBy,
			Namespace:     task.Namespace,
			ExecutionMode: string(task.ExecutionMode),
			DependsOn:     task.DependsOn,
			Preview:       Preview(task.Description, previewChars),
			Digest:        Digest(body, digestChars),
			CreatedAt:     task.CreatedAt,
			UpdatedAt:     task.UpdatedAt,
			Confidence:    task.Confidence,
		}
	}
}

// NanoMessageList is the top-level nano envelope for message lists; it
// replaces the success envelope entirely.
type NanoMessageList struct {
	M []any `json:"m"`
	H int   `json:"h"`
	N int   `json:"n"`
}

// NanoTaskList is the top-level nano envelope for task lists.
type NanoTaskList struct {
	T []any `json:"t"`
	H int   `json:"h"`
	N int   `json:"n"`
}

// NanoMessages wraps shaped nano messages with has-more and count flags.
func NanoMessages(items []any, hasMore bool) *NanoMessageList {
	return &NanoMessageList{M: items, H: boolFlag(hasMore), N: len(items)}
}

// NanoTasks wraps shaped nano tasks with has-more and count flags.
func NanoTasks(items []any, hasMore bool) *NanoTaskList {
	return &NanoTaskList{T: items, H: boolFlag(hasMore), N: len(items)}
}

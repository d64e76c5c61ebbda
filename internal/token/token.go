// Package token turns (answer, id, epoch) into the opaque token text
// <compacted-signature>_<encoded-id> and parses the id back out.
package token

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Separator joins the signature and id segments. The signature segment never contains it.
const Separator = "_"

// DefaultStride keeps every third character of the encoded signature.
const DefaultStride = 3

// MinSignatureChars is the fewest signature positions a stride may keep.
const MinSignatureChars = 12

const (
	idWidth      = 8
	idEncodedLen = 12 // base64 of 8 bytes, with padding
)

// ErrInvalidToken is returned when the id segment is missing, malformed or zero.
var ErrInvalidToken = errors.New("invalid token")

// ErrStrideTooLarge is returned when a stride would keep fewer than MinSignatureChars.
var ErrStrideTooLarge = errors.New("compaction stride too large")

// Codec computes and parses tokens. For a fixed signer Encode is a pure function.
type Codec struct {
	signer        Signer
	caseSensitive bool
	stride        int
}

// NewCodec returns a Codec. stride < 1 means keep every character; a stride above
// MaxStride(signer) is rejected.
func NewCodec(signer Signer, caseSensitive bool, stride int) (*Codec, error) {
	if stride < 1 {
		stride = 1
	}
	if limit := MaxStride(signer); stride > limit {
		return nil, fmt.Errorf("%w: %d, max %d", ErrStrideTooLarge, stride, limit)
	}
	return &Codec{signer: signer, caseSensitive: caseSensitive, stride: stride}, nil
}

// MaxStride returns the largest stride that keeps MinSignatureChars positions of
// the signer's encoded output.
func MaxStride(signer Signer) int {
	return max(base64.RawURLEncoding.EncodedLen(signer.Size())/MinSignatureChars, 1)
}

// CaseSensitive reports whether answers are compared case-sensitively.
func (c *Codec) CaseSensitive() bool { return c.caseSensitive }

// Encode returns the token for answer bound to id and the given epoch value.
func (c *Codec) Encode(answer string, id uint64, epochValue string) (string, error) {
	if !c.caseSensitive {
		answer = strings.ToUpper(answer)
	}
	msg := make([]byte, 0, len(answer)+len(epochValue)+22)
	msg = append(msg, answer...)
	msg = append(msg, 0)
	msg = append(msg, epochValue...)
	msg = append(msg, 0)
	msg = strconv.AppendUint(msg, id, 10)

	sig, err := c.signer.Sign(msg)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return compact(base64.URLEncoding.EncodeToString(sig), c.stride) + Separator + EncodeID(id), nil
}

// compact keeps every stride-th character and strips '=', '_' and '-'.
func compact(s string, stride int) string {
	var b strings.Builder
	b.Grow(len(s)/stride + 1)
	for i := stride - 1; i < len(s); i += stride {
		switch s[i] {
		case '=', '_', '-':
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// EncodeID encodes id as fixed-width big-endian bytes in unpadded base64url.
func EncodeID(id uint64) string {
	var b [idWidth]byte
	binary.BigEndian.PutUint64(b[:], id)
	return strings.TrimRight(base64.URLEncoding.EncodeToString(b[:]), "=")
}

// DecodeID parses the id segment of token.
func DecodeID(token string) (uint64, error) {
	i := strings.Index(token, Separator)
	if i <= 0 {
		return 0, ErrInvalidToken
	}
	seg := token[i+len(Separator):]
	if seg == "" || len(seg) > idEncodedLen {
		return 0, ErrInvalidToken
	}
	seg += strings.Repeat("=", idEncodedLen-len(seg))
	raw, err := base64.URLEncoding.DecodeString(seg)
	if err != nil || len(raw) != idWidth {
		return 0, ErrInvalidToken
	}
	id := binary.BigEndian.Uint64(raw)
	if id == 0 || EncodeID(id) != token[i+len(Separator):] {
		return 0, ErrInvalidToken
	}
	return id, nil
}

package artifact

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultLinkTTL matches how long a presigned download link stays valid.
const DefaultLinkTTL = 100 * time.Second

var (
	ErrLinkExpired = errors.New("download link expired")
	ErrLinkInvalid = errors.New("download link invalid")
)

// Link is a signed, expiring URL for one artifact.
type Link struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Signer issues and verifies download links.
type Signer struct {
	secret  []byte
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

// NewSigner creates a signer. Links point at baseURL + "/files/<name>".
func NewSigner(secret []byte, baseURL string, ttl time.Duration) (*Signer, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("signing secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultLinkTTL
	}
	return &Signer{
		secret:  secret,
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

// Issue returns a link for name valid for the signer's TTL.
func (s *Signer) Issue(name string) (Link, error) {
	if err := ValidateName(name); err != nil {
		return Link{}, err
	}

	expires := s.now().Add(s.ttl).Unix()

	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", s.sign(name, expires))

	return Link{
		URL:       s.baseURL + "/files/" + url.PathEscape(name) + "?" + q.Encode(),
		ExpiresAt: time.Unix(expires, 0).UTC(),
	}, nil
}

// Verify checks a link's query parameters for name.
func (s *Signer) Verify(name, expires, signature string) error {
	if ValidateName(name) != nil || signature == "" {
		return ErrLinkInvalid
	}

	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrLinkInvalid
	}

	want := s.sign(name, exp)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return ErrLinkInvalid
	}
	if s.now().Unix() > exp {
		return ErrLinkExpired
	}
	return nil
}

func (s *Signer) sign(name string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(name))
	mac.Write([]byte{'|'})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

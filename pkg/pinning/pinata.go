// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

package pinning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/LeeDigitalWorks/rtastore/pkg/contentid"
	"github.com/LeeDigitalWorks/rtastore/pkg/logger"
	"github.com/LeeDigitalWorks/rtastore/pkg/utils"

	"github.com/golang-jwt/jwt/v5"
)

// BackendPinata pins through Pinata's pinFileToIPFS API.
const BackendPinata = "pinata"

const (
	defaultPinataEndpoint = "https://api.pinata.cloud/pinning/pinFileToIPFS"
	defaultPinataGateway  = "https://gateway.pinata.cloud/ipfs/{cid}"
	defaultPinTimeout     = 2 * time.Minute
)

func init() {
	Register(BackendPinata, func(cfg Config) (Pinner, error) {
		return NewPinata(cfg), nil
	})
}

// Pinata is an HTTP pinning client authenticated with a bearer JWT.
type Pinata struct {
	endpoint   string
	gateway    string
	credential string
	expiresAt  time.Time
	client     *http.Client
}

// NewPinata creates a Pinata client. A missing credential is reported on
// Pin, not here, so the process can start without fallback configured.
func NewPinata(cfg Config) *Pinata {
	p := &Pinata{
		endpoint:   cfg.Endpoint,
		gateway:    cfg.GatewayTemplate,
		credential: cfg.Credential,
	}
	if p.endpoint == "" {
		p.endpoint = defaultPinataEndpoint
	}
	if p.gateway == "" {
		p.gateway = defaultPinataGateway
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultPinTimeout
	}
	p.client = &http.Client{Timeout: timeout}

	if p.credential != "" {
		exp, err := credentialExpiry(p.credential)
		if err != nil {
			// Opaque API keys are accepted as-is.
			logger.Debug().Err(err).Msg("pinning credential is not a JWT, skipping expiry check")
		}
		p.expiresAt = exp
	}
	return p
}

// credentialExpiry reads the exp claim. The signature is the service's to
// verify.
func credentialExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse credential: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, err
	}
	return exp.Time, nil
}

func (p *Pinata) Name() string {
	return BackendPinata
}

// CredentialValid reports whether a usable, unexpired credential is set.
func (p *Pinata) CredentialValid() error {
	if p.credential == "" {
		return ErrNoCredential
	}
	if !p.expiresAt.IsZero() && time.Now().After(p.expiresAt) {
		return fmt.Errorf("%w at %s", ErrCredentialExpired, p.expiresAt.Format(time.RFC3339))
	}
	return nil
}

type pinataMetadata struct {
	Name      string            `json:"name"`
	KeyValues map[string]string `json:"keyvalues,omitempty"`
}

type pinataResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

type pinataError struct {
	Error any `json:"error"`
}

func (p *Pinata) Pin(ctx context.Context, req PinRequest) (PinResult, error) {
	if err := p.CredentialValid(); err != nil {
		return PinResult{}, err
	}

	body := utils.SyncPoolGetBuffer()
	defer utils.SyncPoolPutBuffer(body)

	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile("file", req.Name)
	if err != nil {
		return PinResult{}, fmt.Errorf("build form: %w", err)
	}
	if _, err := fw.Write(req.Data); err != nil {
		return PinResult{}, fmt.Errorf("build form: %w", err)
	}
	meta, err := json.Marshal(pinataMetadata{Name: req.Name, KeyValues: req.Tags})
	if err != nil {
		return PinResult{}, fmt.Errorf("encode pin metadata: %w", err)
	}
	if err := mw.WriteField("pinataMetadata", string(meta)); err != nil {
		return PinResult{}, fmt.Errorf("build form: %w", err)
	}
	if err := mw.WriteField("pinataOptions", `{"cidVersion":1}`); err != nil {
		return PinResult{}, fmt.Errorf("build form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return PinResult{}, fmt.Errorf("build form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body.Bytes()))
	if err != nil {
		return PinResult{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.credential)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return PinResult{}, fmt.Errorf("pin request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return PinResult{}, fmt.Errorf("read pin response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return PinResult{}, fmt.Errorf("%w: pinning service returned %s", ErrCredentialExpired, resp.Status)
	}
	if resp.StatusCode/100 != 2 {
		var perr pinataError
		if json.Unmarshal(raw, &perr) == nil && perr.Error != nil {
			return PinResult{}, fmt.Errorf("pinning service returned %s: %v", resp.Status, perr.Error)
		}
		return PinResult{}, fmt.Errorf("pinning service returned %s", resp.Status)
	}

	var out pinataResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return PinResult{}, fmt.Errorf("decode pin response: %w", err)
	}
	if out.IpfsHash == "" {
		return PinResult{}, fmt.Errorf("pinning service returned no content id")
	}

	pinnedAt := time.Now()
	if ts, err := time.Parse(time.RFC3339, out.Timestamp); err == nil {
		pinnedAt = ts
	}
	size := out.PinSize
	if size == 0 {
		size = int64(len(req.Data))
	}
	return PinResult{
		ContentID: out.IpfsHash,
		Size:      size,
		Checksum:  utils.Crc64nvme(req.Data),
		PinnedAt:  pinnedAt,
	}, nil
}

func (p *Pinata) GatewayURL(contentID string) string {
	return contentid.FillTemplate(p.gateway, contentID)
}

func (p *Pinata) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

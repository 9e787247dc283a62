// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

// Package contentid computes and checks content identifiers (CIDv1, raw
// codec, sha2-256) for chunk payloads and metadata documents.
package contentid

import (
	"errors"
	"fmt"
	"strings"

	"github.com/LeeDigitalWorks/rtastore/pkg/utils"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

var ErrMismatch = errors.New("content id does not match data")

// Sum returns the CIDv1 of data.
func Sum(data []byte) (cid.Cid, error) {
	mh, err := multihash.Encode(utils.Sha256Sum(data), multihash.SHA2_256)
	if err != nil {
		return cid.Undef, fmt.Errorf("encode multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// String returns the string form of Sum(data).
func String(data []byte) (string, error) {
	c, err := Sum(data)
	if err != nil {
		return "", err
	}
	return c.String(), nil
}

// Parse decodes a content id string.
func Parse(s string) (cid.Cid, error) {
	c, err := cid.Decode(strings.TrimSpace(s))
	if err != nil {
		return cid.Undef, fmt.Errorf("parse content id %q: %w", s, err)
	}
	return c, nil
}

// Verify checks that id addresses data under id's own prefix.
func Verify(id string, data []byte) error {
	want, err := Parse(id)
	if err != nil {
		return err
	}
	got, err := want.Prefix().Sum(data)
	if err != nil {
		return fmt.Errorf("hash data: %w", err)
	}
	if !got.Equals(want) {
		return fmt.Errorf("%w: have %s, computed %s", ErrMismatch, want, got)
	}
	return nil
}

// FillTemplate substitutes {cid} in a gateway URL template. Templates without
// the placeholder get the id appended as a path segment.
func FillTemplate(template, id string) string {
	if template == "" {
		return ""
	}
	if strings.Contains(template, "{cid}") {
		return strings.ReplaceAll(template, "{cid}", id)
	}
	return strings.TrimRight(template, "/") + "/" + id
}

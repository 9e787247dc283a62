package pipeline

import (
	"context"
	"errors"

	"github.com/LeeDigitalWorks/rtastore/pkg/pinning"
	"github.com/LeeDigitalWorks/rtastore/pkg/types"

	"github.com/dustin/go-humanize"
)

// uploadFallback pins data with the fallback pinner and returns chunk filled
// in with the pin's locator. A missing pinner or credential is
// FallbackUnavailableError.
func (c *Coordinator) uploadFallback(ctx context.Context, chunk types.Chunk, data []byte) (types.Chunk, error) {
	if c.pinner == nil {
		return chunk, types.FallbackUnavailableError(pinning.ErrNotConfigured, "chunk %s", chunk.ChunkID)
	}

	res, err := c.pinner.Pin(ctx, pinning.PinRequest{
		Name: chunk.ChunkID,
		Data: data,
		Tags: map[string]string{
			pinning.TagRecordingID: chunk.RecordingID,
			pinning.TagChunkID:     chunk.ChunkID,
			pinning.TagProvenance:  string(types.ProvenanceFallback),
		},
	})
	switch {
	case errors.Is(err, pinning.ErrNoCredential), errors.Is(err, pinning.ErrCredentialExpired):
		return chunk, types.FallbackUnavailableError(err, "chunk %s", chunk.ChunkID)
	case err != nil:
		return chunk, types.UploadError(err, "fallback pin of %s (%s)",
			chunk.ChunkID, humanize.IBytes(uint64(len(data))))
	}

	chunk.ContentID = res.ContentID
	chunk.Size = res.Size
	if chunk.Size == 0 {
		chunk.Size = int64(len(data))
	}
	chunk.Provenance = types.ProvenanceFallback
	chunk.Stage = types.StageUploaded
	chunk.RootID = ""
	chunk.GatewayURL = c.pinner.GatewayURL(res.ContentID)
	return chunk, nil
}

package renderer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// Header layout of VkPipelineCacheHeaderVersionOne, little-endian:
//
//	 0  4  header length
//	 4  4  header version
//	 8  4  vendor ID
//	12  4  device ID
//	16 16  pipeline cache UUID
const (
	pipelineCacheHeaderSize       = 32
	pipelineCacheHeaderVersionOne = 1
)

type pipelineCacheHeader struct {
	HeaderLength uint32
	Version      uint32
	VendorID     uint32
	DeviceID     uint32
	UUID         uuid.UUID
}

// cacheIdentity is what a cache blob must have been produced by.
type cacheIdentity struct {
	vendorID uint32
	deviceID uint32
	uuid     uuid.UUID
}

// cacheMismatches lists every reason data cannot seed a pipeline cache for
// id. An empty result means the header is usable.
func cacheMismatches(data []byte, id cacheIdentity) []string {
	if len(data) < pipelineCacheHeaderSize {
		return []string{fmt.Sprintf("cache is %d bytes, shorter than its header", len(data))}
	}

	var header pipelineCacheHeader
	if err := binary.Read(bytes.NewReader(data), common.ByteOrder, &header); err != nil {
		return []string{err.Error()}
	}

	var problems []string
	if header.HeaderLength < pipelineCacheHeaderSize {
		problems = append(problems, fmt.Sprintf("bad header length 0x%x", header.HeaderLength))
	}
	if header.Version != pipelineCacheHeaderVersionOne {
		problems = append(problems, fmt.Sprintf("unsupported header version 0x%x", header.Version))
	}
	if header.VendorID != id.vendorID {
		problems = append(problems, fmt.Sprintf("vendor ID 0x%x, driver expects 0x%x", header.VendorID, id.vendorID))
	}
	if header.DeviceID != id.deviceID {
		problems = append(problems, fmt.Sprintf("device ID 0x%x, driver expects 0x%x", header.DeviceID, id.deviceID))
	}
	if header.UUID != id.uuid {
		problems = append(problems, fmt.Sprintf("UUID %s, driver expects %s", header.UUID, id.uuid))
	}
	return problems
}

// readPipelineCache returns the cache blob at path, or nil when there is
// none or it was written by a different driver. A stale file is removed so
// the next save repopulates it.
func readPipelineCache(path string, id cacheIdentity, logger *slog.Logger) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("pipeline cache miss", "path", path)
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "read pipeline cache %s", path)
	}

	if problems := cacheMismatches(data, id); len(problems) > 0 {
		logger.Warn("discarding pipeline cache", "path", path, "problems", problems)
		_ = os.Remove(path)
		return nil, nil
	}

	logger.Info("pipeline cache hit", "path", path, "bytes", len(data))
	return data, nil
}

func (r *Renderer) createPipelineCache() error {
	path := r.cfg.PipelineCachePath
	if path == "" {
		return nil
	}

	id := cacheIdentity{
		vendorID: r.properties.VendorID,
		deviceID: r.properties.DeviceID,
		uuid:     r.properties.PipelineCacheUUID,
	}
	initialData, err := readPipelineCache(path, id, r.logger)
	if err != nil {
		return err
	}

	r.pipelineCache, _, err = r.deviceDriver.CreatePipelineCache(nil, core1_0.PipelineCacheCreateInfo{
		InitialData: initialData,
	})
	if err != nil {
		return errors.Wrap(err, "create pipeline cache")
	}
	return nil
}

func (r *Renderer) pipelineCachePtr() *core1_0.PipelineCache {
	if !r.pipelineCache.Initialized() {
		return nil
	}
	return &r.pipelineCache
}

func (r *Renderer) savePipelineCache() error {
	if !r.pipelineCache.Initialized() {
		return nil
	}

	data, _, err := r.deviceDriver.GetPipelineCacheData(r.pipelineCache)
	if err != nil {
		return errors.Wrap(err, "get pipeline cache data")
	}

	err = os.WriteFile(r.cfg.PipelineCachePath, data, 0o666)
	if err != nil {
		return errors.Wrapf(err, "write pipeline cache %s", r.cfg.PipelineCachePath)
	}

	r.logger.Info("pipeline cache saved", "path", r.cfg.PipelineCachePath, "bytes", len(data))
	return nil
}

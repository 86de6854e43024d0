package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
)

// maxUploadBytes bounds protocol PDF uploads.
const maxUploadBytes = 100 << 20

type protocolResponse struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentHash string    `json:"contentHash"`
	SizeBytes   int64     `json:"sizeBytes"`
	PageCount   int       `json:"pageCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toProtocolResponse(p *models.Protocol) protocolResponse {
	return protocolResponse{
		ID:          p.ID,
		Filename:    p.Filename,
		ContentHash: p.ContentHash,
		SizeBytes:   p.SizeBytes,
		PageCount:   p.PageCount,
		CreatedAt:   p.CreatedAt,
	}
}

// createProtocol handles POST /api/v1/protocols: a multipart upload with a
// "file" part. Identical content resolves to the existing protocol row and
// answers 200 instead of 201.
func (s *Server) createProtocol(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" is required"})
		return
	}
	if fileHeader.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge,
			gin.H{"error": "upload exceeds the size limit"})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if int64(len(data)) > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge,
			gin.H{"error": "upload exceeds the size limit"})
		return
	}

	protocol, created, err := s.protocols.Create(c.Request.Context(), fileHeader.Filename, data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.audit.Record(c.Request.Context(), protocol.ID, "", "protocol.uploaded", gin.H{
		"filename":  fileHeader.Filename,
		"duplicate": !created,
	})

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"protocol": toProtocolResponse(protocol), "created": created})
}

func (s *Server) listProtocols(c *gin.Context) {
	protocols, err := s.protocols.List(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	out := make([]protocolResponse, 0, len(protocols))
	for _, p := range protocols {
		out = append(out, toProtocolResponse(p))
	}
	c.JSON(http.StatusOK, gin.H{"protocols": out})
}

func (s *Server) getProtocol(c *gin.Context) {
	protocol, err := s.protocols.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"protocol": toProtocolResponse(protocol)})
}

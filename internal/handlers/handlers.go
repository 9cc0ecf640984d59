package handlers

import (
	"embed"
	"encoding/base64"
	"errors"
	"html/template"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/weed-id/internal/classifier"
	"github.com/example/weed-id/internal/logging"
	"github.com/example/weed-id/internal/usecase"
)

// MaxUploadSize caps the size of an uploaded image (10 MiB).
const MaxUploadSize = 10 << 20

//go:embed templates/*.html
var templateFS embed.FS

var allowedContentTypes = map[string]bool{
	"image/jpeg":               true,
	"image/jpg":                true,
	"image/pjpeg":              true,
	"image/png":                true,
	"application/octet-stream": true,
}

// failure is what the user sees when a request cannot be classified.
type failure struct {
	status  int
	stage   string
	message string
}

var stageMessages = map[string]failure{
	usecase.StageDecode: {
		status:  http.StatusUnprocessableEntity,
		message: "The uploaded file could not be read as a JPEG or PNG image.",
	},
	usecase.StageNormalize: {
		status:  http.StatusUnprocessableEntity,
		message: "The image color mode could not be converted to RGB.",
	},
	usecase.StageClassify: {
		status:  http.StatusInternalServerError,
		message: "The model failed to classify the image. Please try again.",
	},
	usecase.StageFormat: {
		status:  http.StatusInternalServerError,
		message: "The model output does not match the configured class labels.",
	},
}

// Options configures RegisterRoutes.
type Options struct {
	MaxUploadSize int64
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.ClassificationUseCase, opts ...Options) {
	maxUpload := int64(MaxUploadSize)
	if len(opts) > 0 && opts[0].MaxUploadSize > 0 {
		maxUpload = opts[0].MaxUploadSize
	}
	h := &handler{uc: uc, maxUpload: maxUpload}

	router.SetHTMLTemplate(template.Must(template.New("").ParseFS(templateFS, "templates/*.html")))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, uc.GetMetricsSummary())
	})

	router.GET("/", h.index)
	router.POST("/predict", h.predictPage)
	router.POST("/api/v1/predict", h.predictJSON)
}

type handler struct {
	uc        *usecase.ClassificationUseCase
	maxUpload int64
}

func (h *handler) index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{"Labels": h.labels()})
}

func (h *handler) predictPage(c *gin.Context) {
	outcome, data, fail := h.classifyUpload(c)
	if fail != nil {
		c.HTML(fail.status, "index.html", gin.H{
			"Labels": h.labels(),
			"Error":  fail.message,
			"Stage":  fail.stage,
		})
		return
	}

	c.HTML(http.StatusOK, "index.html", gin.H{
		"Labels":     h.labels(),
		"RequestID":  outcome.RequestID,
		"Prediction": outcome.Result.Label,
		"Confidence": outcome.Result.ConfidenceText(),
		"Scores":     outcome.Result.Scores,
		"Preview":    previewURL(outcome.Format, data),
	})
}

// previewURL embeds the uploaded image in the page so it can be shown next
// to the prediction.
func previewURL(format string, data []byte) template.URL {
	if format == "" || len(data) == 0 {
		return ""
	}
	return template.URL("data:image/" + format + ";base64," + base64.StdEncoding.EncodeToString(data))
}

func (h *handler) predictJSON(c *gin.Context) {
	outcome, _, fail := h.classifyUpload(c)
	if fail != nil {
		body := gin.H{"error": fail.message}
		if fail.stage != "" {
			body["stage"] = fail.stage
		}
		c.JSON(fail.status, body)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id": outcome.RequestID,
		"label":      outcome.Result.Label,
		"confidence": outcome.Result.ConfidenceText(),
		"score":      outcome.Result.Confidence,
		"scores":     outcome.Result.Scores,
		"cached":     outcome.Cached,
	})
}

func (h *handler) labels() classifier.LabelTable {
	if h.uc == nil {
		return nil
	}
	return h.uc.Labels()
}

func (h *handler) classifyUpload(c *gin.Context) (*usecase.Outcome, []byte, *failure) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+1<<20)

	file, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
			return nil, nil, &failure{status: http.StatusRequestEntityTooLarge, message: "The uploaded image is too large."}
		}
		return nil, nil, &failure{status: http.StatusBadRequest, message: "Please choose an image file to upload."}
	}
	if file.Size > h.maxUpload {
		return nil, nil, &failure{status: http.StatusRequestEntityTooLarge, message: "The uploaded image is too large."}
	}
	if !allowedContentType(file) {
		return nil, nil, &failure{status: http.StatusUnsupportedMediaType, message: "Only JPEG and PNG images are supported."}
	}

	data, err := readUpload(file)
	if err != nil {
		return nil, nil, &failure{status: http.StatusInternalServerError, message: "The uploaded image could not be read."}
	}

	outcome, err := h.uc.Classify(c.Request.Context(), data)
	if err != nil {
		var opErr *logging.OperationError
		if errors.As(err, &opErr) {
			c.Set(logging.RequestIDKey, opErr.RequestID)
		}
		_ = c.Error(err)

		stage := usecase.StageOf(err)
		if f, ok := stageMessages[stage]; ok {
			f.stage = stage
			return nil, nil, &f
		}
		return nil, nil, &failure{status: http.StatusInternalServerError, message: "The image could not be classified."}
	}

	c.Set(logging.RequestIDKey, outcome.RequestID)
	return outcome, data, nil
}

func readUpload(file *multipart.FileHeader) ([]byte, error) {
	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(src)
}

func allowedContentType(file *multipart.FileHeader) bool {
	raw := file.Header.Get("Content-Type")
	if raw == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return false
	}
	return allowedContentTypes[strings.ToLower(mediaType)]
}

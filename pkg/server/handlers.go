package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/denoise/pkg/audio"
	"github.com/xaionaro-go/denoise/pkg/audioinput"
	"github.com/xaionaro-go/denoise/pkg/audiooutput"
	"github.com/xaionaro-go/denoise/pkg/capture"
	"github.com/xaionaro-go/denoise/pkg/controller"
	"github.com/xaionaro-go/denoise/pkg/denoise"
	"github.com/xaionaro-go/denoise/pkg/metrics"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func errorKind(err error) (string, int) {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		return "too_large", http.StatusRequestEntityTooLarge
	case errors.Is(err, audioinput.ErrInvalidInput):
		return "invalid_input", http.StatusBadRequest
	case errors.Is(err, audioinput.ErrUnsupportedInputType):
		return "unsupported_input", http.StatusBadRequest
	case errors.Is(err, audioinput.ErrEmptyAudio):
		return "empty_audio", http.StatusBadRequest
	case errors.Is(err, audioinput.ErrDecode):
		return "decode", http.StatusUnprocessableEntity
	case errors.Is(err, denoise.ErrEngineNotInitialized):
		return "engine_not_initialized", http.StatusServiceUnavailable
	case errors.Is(err, capture.ErrPermissionDenied):
		return "permission_denied", http.StatusForbidden
	case errors.Is(err, capture.ErrMicrophoneUnavailable):
		return "microphone_unavailable", http.StatusServiceUnavailable
	case errors.Is(err, controller.ErrAlreadyRecording), errors.Is(err, controller.ErrNotRecording):
		return "recording_state", http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled", http.StatusRequestTimeout
	}
	return "internal", http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", audiooutput.ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	kind, status := errorKind(err)
	metrics.Errors.WithLabelValues(kind).Inc()
	if status >= http.StatusInternalServerError {
		logger.Errorf(ctx, "%s: %v", kind, err)
	} else {
		logger.Debugf(ctx, "%s: %v", kind, err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}

func writeResult(w http.ResponseWriter, result *audiooutput.Result) error {
	payload, contentType, err := result.Payload()
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Sample-Rate", strconv.FormatUint(uint64(result.SampleRate), 10))
	if result.File != nil {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
			"filename": result.File.Name,
		}))
	}
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(payload)
	return err
}

func (s *Server) respondResult(
	ctx context.Context,
	w http.ResponseWriter,
	result *audiooutput.Result,
	err error,
) {
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if err := writeResult(w, result); err != nil {
		logger.Warnf(ctx, "unable to send the result: %v", err)
	}
}

type denoiseRequest struct {
	input any
	opts  denoise.Options
}

func (s *Server) parseDenoiseRequest(
	w http.ResponseWriter,
	r *http.Request,
) (*denoiseRequest, error) {
	query := r.URL.Query()
	req := &denoiseRequest{}

	req.opts.Output = s.config.OutputFormat()
	if v := query.Get("output"); v != "" {
		f, err := audiooutput.ParseFormat(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", audioinput.ErrInvalidInput, err)
		}
		req.opts.Output = f
	}
	if v := query.Get("sample_rate"); v != "" {
		rate, err := strconv.ParseUint(v, 10, 32)
		if err != nil || rate == 0 {
			return nil, fmt.Errorf("%w: invalid sample_rate '%s'", audioinput.ErrInvalidInput, v)
		}
		req.opts.SampleRate = audio.SampleRate(rate)
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadSize)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(s.config.MaxUploadSize); err != nil {
			return nil, fmt.Errorf("%w: unable to parse the form: %w", audioinput.ErrInvalidInput, err)
		}
		f, header, err := r.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("%w: no file: %w", audioinput.ErrInvalidInput, err)
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("unable to read the uploaded file: %w", err)
		}
		req.input = &audioinput.Blob{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		}
		return req, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to read the body: %w", audioinput.ErrInvalidInput, err)
	}

	// a raw PCM buffer if its format is given, a container file otherwise
	if v := query.Get("pcm_format"); v != "" {
		pcmFormat, err := audio.ParsePCMFormat(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", audioinput.ErrInvalidInput, err)
		}
		req.opts.PCMFormat = pcmFormat
		if v := query.Get("channels"); v != "" {
			channels, err := strconv.ParseUint(v, 10, 32)
			if err != nil || channels == 0 {
				return nil, fmt.Errorf("%w: invalid channels '%s'", audioinput.ErrInvalidInput, v)
			}
			req.opts.Channels = audio.Channel(channels)
		}
		req.input = data
		return req, nil
	}
	req.input = &audioinput.Blob{
		Name:        query.Get("name"),
		ContentType: r.Header.Get("Content-Type"),
		Data:        data,
	}
	return req, nil
}

func (s *Server) handleDenoise(w http.ResponseWriter, r *http.Request) {
	ctx := s.requestCtx(r)
	req, err := s.parseDenoiseRequest(w, r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	metrics.RequestsTotal.WithLabelValues("upload", req.opts.Output.String()).Inc()

	result, err := s.timed("upload", func() (*audiooutput.Result, error) {
		if blob, ok := req.input.(*audioinput.Blob); ok {
			return s.controller.ProcessFileWithOptions(ctx, blob, req.opts)
		}
		return s.processor.Denoise(ctx, req.input, req.opts)
	})
	s.respondResult(ctx, w, result, err)
}

func (s *Server) timed(
	source string,
	fn func() (*audiooutput.Result, error),
) (*audiooutput.Result, error) {
	start := time.Now()
	defer func() {
		metrics.ProcessingDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	}()
	return fn()
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.State())
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	ctx := s.requestCtx(r)
	if err := s.controller.Init(ctx); err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.controller.State())
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	ctx := s.requestCtx(r)
	model, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxUploadSize))
	if err != nil {
		writeError(ctx, w, fmt.Errorf("%w: unable to read the model: %w", audioinput.ErrInvalidInput, err))
		return
	}
	s.controller.SetModel(ctx, model)
	metrics.EngineReady.Set(0)
	writeJSON(w, http.StatusOK, s.controller.State())
}

func (s *Server) handleDragging(w http.ResponseWriter, r *http.Request) {
	ctx := s.requestCtx(r)
	dragging, err := strconv.ParseBool(r.URL.Query().Get("value"))
	if err != nil {
		writeError(ctx, w, fmt.Errorf("%w: invalid value: %w", audioinput.ErrInvalidInput, err))
		return
	}
	s.controller.SetDragging(dragging)
	writeJSON(w, http.StatusOK, s.controller.State())
}

func (s *Server) handleMicrophoneStart(w http.ResponseWriter, r *http.Request) {
	ctx := s.requestCtx(r)
	// the session outlives the request
	ctx = context.WithoutCancel(ctx)
	if err := s.controller.StartMicrophone(ctx); err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.controller.State())
}

func (s *Server) handleMicrophoneStop(w http.ResponseWriter, r *http.Request) {
	ctx := s.requestCtx(r)
	result, err := s.timed("microphone", func() (*audiooutput.Result, error) {
		return s.controller.StopMicrophone(ctx)
	})
	if !errors.Is(err, controller.ErrNotRecording) {
		metrics.RequestsTotal.WithLabelValues("microphone", s.config.OutputFormat().String()).Inc()
	}
	s.respondResult(ctx, w, result, err)
}

type healthResponse struct {
	Status      string `json:"status"`
	EngineReady bool   `json:"engine_ready"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		EngineReady: s.processor.IsReady(),
	})
}

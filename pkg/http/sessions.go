package http

import (
	"net/http"
	"strconv"
	"strings"

	"pss-server/pkg/diarization"
	"pss-server/pkg/errors"
	"pss-server/pkg/service"
)

// multipartMemory is the part of an upload kept in memory; the rest spills
// to temporary files.
const multipartMemory = 32 << 20

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var input service.NewSession
	if err := decodeJSON(w, r, &input, false); err != nil {
		s.ErrorResponse(w, r, err)
		return
	}

	session, err := s.sessions.CreateSession(r.Context(), currentUser(r), input)
	if err != nil {
		s.ErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		s.ErrorResponse(w, r, err)
		return
	}

	sessions, err := s.sessions.ListSessions(r.Context(), currentUser(r), opts)
	if err != nil {
		s.ErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: sessions, Count: len(sessions), Offset: opts.Offset})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.GetSession(r.Context(), currentUser(r), r.PathValue("id"))
	if err != nil {
		s.ErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// uploadRecording accepts a multipart form with an "audio" file and an
// optional "speakers_expected" hint, and transcribes it synchronously.
func (s *Server) uploadRecording(w http.ResponseWriter, r *http.Request) {
	if s.config.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.ErrorResponse(w, r, errors.Wrap(errors.ErrPayloadTooLarge, "recording exceeds upload limit").
				WithField("limit_bytes", tooLarge.Limit).WithCode("PAYLOAD_TOO_LARGE"))
			return
		}
		s.ErrorResponse(w, r, errors.NewInvalidInput("expected a multipart/form-data upload"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		s.ErrorResponse(w, r, errors.NewInvalidInput("audio file is required"))
		return
	}
	defer file.Close()

	speakers := 0
	if raw := strings.TrimSpace(r.FormValue("speakers_expected")); raw != "" {
		speakers, err = strconv.Atoi(raw)
		if err != nil {
			s.ErrorResponse(w, r, errors.NewInvalidInput("speakers_expected must be an integer"))
			return
		}
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	session, err := s.sessions.Transcribe(r.Context(), currentUser(r), r.PathValue("id"), service.Recording{
		Body:             file,
		Filename:         header.Filename,
		ContentType:      contentType,
		Size:             header.Size,
		SpeakersExpected: speakers,
	})
	if err != nil {
		s.ErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type confirmSpeakersRequest struct {
	Roles diarization.RoleMap `json:"roles"`
}

func (s *Server) confirmSpeakers(w http.ResponseWriter, r *http.Request) {
	var req confirmSpeakersRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		s.ErrorResponse(w, r, err)
		return
	}

	session, err := s.sessions.ConfirmRoles(r.Context(), currentUser(r), r.PathValue("id"), req.Roles)
	if err != nil {
		s.ErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) getTranscript(w http.ResponseWriter, r *http.Request) {
	transcript, err := s.sessions.LabeledTranscript(r.Context(), currentUser(r), r.PathValue("id"))
	if err != nil {
		s.ErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transcript)
}

type analyzeRequest struct {
	Utterances    []diarization.Utterance `json:"utterances"`
	AudioDuration float64                 `json:"audioDuration"`
	Text          string                  `json:"text"`
}

// analyzeTranscript runs the diarization transforms over a transcript the
// client already has. Nothing is persisted.
func (s *Server) analyzeTranscript(w http.ResponseWriter, r *http.Request) {
	if currentUser(r) == nil {
		s.ErrorResponse(w, r, errors.NewUnauthenticated("authentication required"))
		return
	}

	var req analyzeRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		s.ErrorResponse(w, r, err)
		return
	}
	if req.AudioDuration < 0 {
		s.ErrorResponse(w, r, errors.NewInvalidInput("audioDuration must not be negative"))
		return
	}

	writeJSON(w, http.StatusOK, service.Analyze(req.Utterances, req.AudioDuration, req.Text))
}

package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/care-marketplace/internal/logger"
	"github.com/hackgods/care-marketplace/internal/tracking"
)

// trackingView decorates rec with status labels and timeline phases. Labels
// are skipped when the reference type has no vocabulary.
func trackingView(svc TrackingService, rec *tracking.Record, withAvailable bool) TrackingView {
	view := TrackingView{
		Record:        rec,
		StatusHistory: make([]HistoryView, 0, len(rec.StatusHistory)),
		Timeline:      tracking.Classify(rec.OrderedStatuses, rec.CurrentStatus),
	}
	vocab, err := svc.Vocabulary(rec.ReferenceType)
	for _, h := range rec.StatusHistory {
		hv := HistoryView{HistoryEntry: h}
		if err == nil {
			if info, ok := vocab.Info(h.Status); ok {
				hv.StatusInfo = &info
			}
		}
		view.StatusHistory = append(view.StatusHistory, hv)
	}
	if err == nil {
		if info, ok := vocab.Info(rec.CurrentStatus); ok {
			view.CurrentStatusInfo = &info
		}
		if withAvailable {
			view.AvailableStatuses = vocab.All()
		}
	}
	return view
}

func getTrackingHandler(svc TrackingService, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var (
			rec *tracking.Record
			err error
		)
		switch {
		case q.Get("trackingNumber") != "":
			rec, err = svc.GetByTrackingNumber(r.Context(), q.Get("trackingNumber"))
		case q.Get("referenceType") != "":
			rec, err = svc.Get(r.Context(), tracking.ReferenceType(q.Get("referenceType")), q.Get("referenceId"))
		default:
			err = fmt.Errorf("%w: referenceType or trackingNumber is required", errBadRequest)
		}
		if err != nil {
			handleError(w, r, log, "get tracking", err)
			return
		}
		writeData(w, http.StatusOK, trackingView(svc, rec, false))
	}
}

func createTrackingHandler(svc TrackingService, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateTrackingRequest
		if err := decodeJSON(r, &req); err != nil {
			handleError(w, r, log, "create tracking", err)
			return
		}

		rec, created, err := svc.Create(r.Context(), tracking.CreateInput{
			ReferenceType: tracking.ReferenceType(req.ReferenceType),
			ReferenceID:   req.ReferenceID,
			InitialStatus: req.InitialStatus,
			Note:          req.Note,
		})
		if err != nil {
			handleError(w, r, log, "create tracking", err)
			return
		}

		status := http.StatusCreated
		if !created {
			status = http.StatusOK
		}
		writeData(w, status, trackingView(svc, rec, false))
	}
}

func listTrackingHandler(svc TrackingService, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := tracking.ListFilter{
			ReferenceType: tracking.ReferenceType(q.Get("referenceType")),
			Status:        q.Get("status"),
			Search:        q.Get("search"),
		}
		var err error
		if f.Page, f.Limit, err = parsePaging(q); err != nil {
			handleError(w, r, log, "list tracking", err)
			return
		}

		page, err := svc.List(r.Context(), f)
		if err != nil {
			handleError(w, r, log, "list tracking", err)
			return
		}
		writeData(w, http.StatusOK, TrackingListResponse{
			Records: page.Records,
			Pagination: Pagination{
				Page:  page.Page,
				Limit: page.Limit,
				Total: page.Total,
				Pages: page.Pages,
			},
		})
	}
}

func adminGetTrackingHandler(svc TrackingService, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := svc.GetByID(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			handleError(w, r, log, "get tracking", err)
			return
		}
		writeData(w, http.StatusOK, trackingView(svc, rec, true))
	}
}

// advanceTrackingHandler records a status move when status is given;
// otherwise only the detail fields are updated.
func advanceTrackingHandler(svc TrackingService, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AdvanceTrackingRequest
		if err := decodeJSON(r, &req); err != nil {
			handleError(w, r, log, "advance tracking", err)
			return
		}

		id := chi.URLParam(r, "id")
		fields := tracking.Fields{
			AssignedTo:      req.AssignedTo,
			AssignedToPhone: req.AssignedToPhone,
			ResultsFileURL:  req.ResultsFileURL,
			ActualDelivery:  req.ActualDelivery,
		}

		var (
			rec *tracking.Record
			err error
		)
		if req.Status != "" {
			by := tracking.ChangedBy(req.ChangedBy)
			name := req.ChangedByName
			if name == "" {
				name = currentUser(r).Name
			}
			rec, err = svc.Advance(r.Context(), id, tracking.AdvanceInput{
				Status:        req.Status,
				Note:          req.Note,
				ChangedBy:     by,
				ChangedByName: name,
				Fields:        fields,
			})
		} else {
			if req.Note != "" {
				fields.Notes = &req.Note
			}
			rec, err = svc.UpdateDetails(r.Context(), id, fields)
		}
		if err != nil {
			handleError(w, r, log, "advance tracking", err)
			return
		}
		writeData(w, http.StatusOK, trackingView(svc, rec, false))
	}
}

func advanceNextHandler(svc TrackingService, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AdvanceNextRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(r, &req); err != nil {
				handleError(w, r, log, "advance tracking", err)
				return
			}
		}
		name := req.ChangedByName
		if name == "" {
			name = currentUser(r).Name
		}

		rec, err := svc.AdvanceNext(r.Context(), chi.URLParam(r, "id"), req.Note, tracking.ChangedBy(req.ChangedBy), name)
		if err != nil {
			handleError(w, r, log, "advance tracking", err)
			return
		}
		writeData(w, http.StatusOK, trackingView(svc, rec, false))
	}
}

func uploadResultsHandler(svc TrackingService, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UploadResultsRequest
		if err := decodeJSON(r, &req); err != nil {
			handleError(w, r, log, "upload results", err)
			return
		}
		if req.TrackingID == "" {
			handleError(w, r, log, "upload results", fmt.Errorf("%w: trackingId is required", errBadRequest))
			return
		}

		rec, err := svc.UploadResults(r.Context(), req.TrackingID, req.ResultsFileURL, req.Note)
		if err != nil {
			handleError(w, r, log, "upload results", err)
			return
		}
		writeData(w, http.StatusOK, trackingView(svc, rec, false))
	}
}

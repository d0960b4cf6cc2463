package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/systemshift/topicgraph/internal/server/subscriptions"
	"github.com/systemshift/topicgraph/internal/topicmap/model"
	"github.com/systemshift/topicgraph/internal/topicmap/service"
)

// Server holds the HTTP server dependencies
type Server struct {
	svc    *service.Service
	subMgr *subscriptions.Manager
	logger *zap.Logger
}

// New creates a new API server. subMgr may be nil.
func New(svc *service.Service, subMgr *subscriptions.Manager, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{svc: svc, subMgr: subMgr, logger: logger}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusOf maps the error taxonomy onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrUnknownType),
		errors.Is(err, subscriptions.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrFormat), errors.Is(err, model.ErrContractViolation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	http.Error(w, err.Error(), status)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func queryID(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	if err != nil {
		http.Error(w, "invalid "+key+" parameter", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// HealthCheck handles GET /health
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":        "ok",
		"model_version": s.svc.ModelVersion(),
	})
}

// ============== Topic Handlers ==============

// CreateTopicRequest is the request body for creating a topic
type CreateTopicRequest struct {
	TypeID     string         `json:"type_id"`
	Properties map[string]any `json:"properties"`
}

// CreateTopic handles POST /api/topics
func (s *Server) CreateTopic(w http.ResponseWriter, r *http.Request) {
	var req CreateTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.TypeID == "" {
		http.Error(w, "type_id is required", http.StatusBadRequest)
		return
	}

	topic, err := s.svc.CreateTopic(r.Context(), req.TypeID, req.Properties)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, topic)
}

// ListTopics handles GET /api/topics
// Either ?type=ID lists a type's instances, or ?key=FIELD&value=V looks up a KEY-indexed value.
func (s *Server) ListTopics(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if key := query.Get("key"); key != "" {
		var topic *model.Topic
		for _, v := range lookupValues(query.Get("value")) {
			var err error
			if topic, err = s.svc.GetTopicByValue(r.Context(), key, v); err != nil {
				s.writeError(w, err)
				return
			}
			if topic != nil {
				break
			}
		}
		if topic == nil {
			http.Error(w, "no topic with "+key+" = "+query.Get("value"), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, topic)
		return
	}

	typeID := query.Get("type")
	if typeID == "" {
		http.Error(w, "type or key parameter is required", http.StatusBadRequest)
		return
	}
	topics, err := s.svc.GetTopicsByType(r.Context(), typeID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"topics": topics,
		"count":  len(topics),
	})
}

// lookupValues returns the candidates for a key lookup: the raw string, then
// its JSON reading when that is a number or boolean.
func lookupValues(raw string) []any {
	values := []any{raw}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return values
	}
	switch decoded.(type) {
	case float64, bool:
		values = append(values, decoded)
	}
	return values
}

// GetTopic handles GET /api/topics/{id}
func (s *Server) GetTopic(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	topic, err := s.svc.GetTopic(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, topic)
}

// UpdatePropertiesRequest is the request body for merging properties
type UpdatePropertiesRequest struct {
	Properties map[string]any `json:"properties"`
}

// UpdateTopic handles PATCH /api/topics/{id}
// A null property value removes the property.
func (s *Server) UpdateTopic(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req UpdatePropertiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	topic, err := s.svc.SetTopicProperties(r.Context(), id, req.Properties)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, topic)
}

// DeleteTopic handles DELETE /api/topics/{id}
func (s *Server) DeleteTopic(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.svc.DeleteTopic(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetRelatedTopics handles GET /api/topics/{id}/related
// Query params: ?include=type1,type2 and repeated ?exclude=REL[;OUTGOING|INCOMING]
// (the semicolon must be percent-encoded).
func (s *Server) GetRelatedTopics(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()

	var include []string
	for _, t := range strings.Split(query.Get("include"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			include = append(include, t)
		}
	}

	topics, err := s.svc.GetRelatedTopics(r.Context(), id, include, query["exclude"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"topic_id": id,
		"topics":   topics,
		"count":    len(topics),
	})
}

// GetTopicRelations handles GET /api/topics/{id}/relations
func (s *Server) GetTopicRelations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rels, err := s.svc.GetTopicRelations(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"topic_id":  id,
		"relations": rels,
		"count":     len(rels),
	})
}

// Search handles GET /api/search?q=TERM
// Optional: ?field=FIELD_ID to search one field, ?whole_word=true to disable prefix matching.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	term := query.Get("q")
	if term == "" {
		http.Error(w, "q parameter is required", http.StatusBadRequest)
		return
	}
	wholeWord := query.Get("whole_word") == "true"

	result, err := s.svc.SearchTopics(r.Context(), term, query.Get("field"), wholeWord)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ============== Relation Handlers ==============

// CreateRelationRequest is the request body for creating a relation
type CreateRelationRequest struct {
	TypeID     string         `json:"type_id"`
	SrcTopicID int64          `json:"src_topic_id"`
	DstTopicID int64          `json:"dst_topic_id"`
	Properties map[string]any `json:"properties"`
}

// CreateRelation handles POST /api/relations
func (s *Server) CreateRelation(w http.ResponseWriter, r *http.Request) {
	var req CreateRelationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rel, err := s.svc.CreateRelation(r.Context(), req.TypeID, req.SrcTopicID, req.DstTopicID, req.Properties)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rel)
}

// FindRelation handles GET /api/relations?src=ID&dst=ID
func (s *Server) FindRelation(w http.ResponseWriter, r *http.Request) {
	src, ok := queryID(w, r, "src")
	if !ok {
		return
	}
	dst, ok := queryID(w, r, "dst")
	if !ok {
		return
	}

	rel, err := s.svc.GetRelation(r.Context(), src, dst)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rel == nil {
		http.Error(w, "topics are not related", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

// GetRelation handles GET /api/relations/{id}
func (s *Server) GetRelation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rel, err := s.svc.GetRelationByID(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

// UpdateRelation handles PATCH /api/relations/{id}
func (s *Server) UpdateRelation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req UpdatePropertiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rel, err := s.svc.SetRelationProperties(r.Context(), id, req.Properties)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

// DeleteRelation handles DELETE /api/relations/{id}
func (s *Server) DeleteRelation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.svc.DeleteRelation(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ============== Type Handlers ==============

// ListTypes handles GET /api/types
func (s *Server) ListTypes(w http.ResponseWriter, r *http.Request) {
	ids, err := s.svc.TopicTypeIDs(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"types": ids,
		"count": len(ids),
	})
}

// ImportTypes handles POST /api/types
// The body is a JSON array of type descriptions.
func (s *Server) ImportTypes(w http.ResponseWriter, r *http.Request) {
	types, err := s.svc.ImportTypes(r.Context(), r.Body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	descs := make([]model.TypeDescription, 0, len(types))
	for _, tt := range types {
		descs = append(descs, tt.Description())
	}
	writeJSON(w, http.StatusCreated, descs)
}

// GetType handles GET /api/types/{typeID}
func (s *Server) GetType(w http.ResponseWriter, r *http.Request) {
	tt, err := s.svc.GetTopicType(r.Context(), chi.URLParam(r, "typeID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tt.Description())
}

// AddField handles POST /api/types/{typeID}/fields
func (s *Server) AddField(w http.ResponseWriter, r *http.Request) {
	var fd model.FieldDescription
	if err := json.NewDecoder(r.Body).Decode(&fd); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f, err := model.DataFieldFromDescription(fd)
	if err != nil {
		s.writeError(w, err)
		return
	}

	tt, err := s.svc.AddDataField(r.Context(), chi.URLParam(r, "typeID"), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tt.Description())
}

// FieldOrderRequest is the request body for reordering a type's fields
type FieldOrderRequest struct {
	FieldIDs []string `json:"field_ids"`
}

// SetFieldOrder handles PUT /api/types/{typeID}/fields/order
func (s *Server) SetFieldOrder(w http.ResponseWriter, r *http.Request) {
	var req FieldOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tt, err := s.svc.SetDataFieldOrder(r.Context(), chi.URLParam(r, "typeID"), req.FieldIDs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tt.Description())
}

// ============== Subscription Handlers ==============

// CreateSubscription handles POST /api/subscriptions
func (s *Server) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	if s.subMgr == nil {
		http.Error(w, "subscription manager not initialized", http.StatusServiceUnavailable)
		return
	}

	var req subscriptions.CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sub, err := s.subMgr.Register(r.Context(), &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// ListSubscriptions handles GET /api/subscriptions
func (s *Server) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	if s.subMgr == nil {
		http.Error(w, "subscription manager not initialized", http.StatusServiceUnavailable)
		return
	}

	subs := s.subMgr.List()
	writeJSON(w, http.StatusOK, subscriptions.ListSubscriptionsResponse{
		Subscriptions: subs,
		Count:         len(subs),
	})
}

// GetSubscription handles GET /api/subscriptions/{id}
func (s *Server) GetSubscription(w http.ResponseWriter, r *http.Request) {
	if s.subMgr == nil {
		http.Error(w, "subscription manager not initialized", http.StatusServiceUnavailable)
		return
	}

	sub, err := s.subMgr.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// UpdateSubscription handles PATCH /api/subscriptions/{id}
func (s *Server) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	if s.subMgr == nil {
		http.Error(w, "subscription manager not initialized", http.StatusServiceUnavailable)
		return
	}

	var req subscriptions.UpdateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sub, err := s.subMgr.Update(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// DeleteSubscription handles DELETE /api/subscriptions/{id}
func (s *Server) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	if s.subMgr == nil {
		http.Error(w, "subscription manager not initialized", http.StatusServiceUnavailable)
		return
	}

	if err := s.subMgr.Unregister(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

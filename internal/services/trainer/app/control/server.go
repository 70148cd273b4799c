package control

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "github.com/louisbranch/mindtrain/internal/platform/errors"
	"github.com/louisbranch/mindtrain/internal/platform/grpc/pagination"
	"github.com/louisbranch/mindtrain/internal/services/trainer/app/coordinator"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/delta"
)

// ServiceName is the fully qualified gRPC service name, also used as the
// health service name.
const ServiceName = "mindtrain.trainer.v1.ControlService"

const (
	orderByOpenedAt  = "opened_at"
	orderBySessionID = "session_id"
	defaultRounds    = 20
	maxRounds        = 500
)

var (
	pageSizeConfig = pagination.PageSizeConfig{Default: 25, Max: 200}
	orderByConfig  = pagination.OrderByConfig{
		Default: orderByOpenedAt,
		Allowed: []string{orderByOpenedAt, orderBySessionID},
	}
)

// Server implements ControlServer over a coordinator.
type Server struct {
	coord *coordinator.Coordinator
}

// NewServer builds the control API.
func NewServer(coord *coordinator.Coordinator) *Server {
	return &Server{coord: coord}
}

// ListSessions pages through live sessions.
// Request fields: page_size, page_token, order_by.
func (s *Server) ListSessions(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	pageSize := pagination.ClampPageSize(int32(fields["page_size"].GetNumberValue()), pageSizeConfig)
	orderBy, err := pagination.NormalizeOrderBy(fields["order_by"].GetStringValue(), orderByConfig)
	if err != nil {
		return nil, invalidArgument(err.Error())
	}
	offset, err := pagination.DecodeOffset(fields["page_token"].GetStringValue())
	if err != nil {
		return nil, invalidArgument(err.Error())
	}

	infos := s.coord.Sessions()
	if orderBy == orderBySessionID {
		sortBySessionID(infos)
	}
	start, end, next := pagination.Window(len(infos), offset, pageSize)

	sessions := make([]any, 0, end-start)
	for _, info := range infos[start:end] {
		sessions = append(sessions, map[string]any{
			"session_id":  info.SessionID,
			"exercise":    info.Exercise,
			"phase":       string(info.Phase),
			"version":     float64(info.Version),
			"last_acked":  float64(info.LastAcked),
			"round_index": float64(info.RoundIndex),
			"stopped":     info.Stopped,
			"attached":    info.Attached,
			"opened_at":   info.OpenedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return structpb.NewStruct(map[string]any{
		"sessions":        sessions,
		"next_page_token": pagination.EncodeOffset(next),
		"total_size":      float64(len(infos)),
	})
}

// GetSession returns the current snapshot of one session and its checksum.
func (s *Server) GetSession(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sessionID, err := requiredSessionID(req)
	if err != nil {
		return nil, err
	}
	snap, err := s.coord.Snapshot(sessionID)
	if err != nil {
		return nil, err
	}
	encoded, err := toValue(snap)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{
		"session_id": sessionID,
		"snapshot":   encoded,
		"checksum":   strconv.FormatUint(delta.Checksum(snap), 10),
	})
}

// StopSession stops a session and closes it. A session that is already
// stopped is only closed.
func (s *Server) StopSession(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	sessionID, err := requiredSessionID(req)
	if err != nil {
		return nil, err
	}
	if _, err := s.coord.Stop(ctx, sessionID); err != nil && apperrors.CodeOf(err) != apperrors.CodeSessionStopped {
		return nil, err
	}
	if err := s.coord.Close(ctx, sessionID, coordinator.ReasonControl); err != nil {
		return nil, err
	}
	return &emptypb.Empty{}, nil
}

// ListRounds returns the newest scored rounds of a session.
// Request fields: session_id, limit.
func (s *Server) ListRounds(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sessionID, err := requiredSessionID(req)
	if err != nil {
		return nil, err
	}
	limit := pagination.ClampPageSize(int32(req.GetFields()["limit"].GetNumberValue()), pagination.PageSizeConfig{
		Default: defaultRounds,
		Max:     maxRounds,
	})
	rounds, err := s.coord.Rounds(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]any, 0, len(rounds))
	for _, round := range rounds {
		items = append(items, map[string]any{
			"round_index": float64(round.RoundIndex),
			"exercise":    round.Exercise,
			"category":    round.Category,
			"level":       float64(round.Level),
			"new_level":   float64(round.NewLevel),
			"correct":     round.Correct,
			"timed_out":   round.TimedOut,
			"latency_ms":  float64(round.LatencyMS),
			"scored_at":   round.ScoredAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return structpb.NewStruct(map[string]any{
		"session_id": sessionID,
		"rounds":     items,
	})
}

func requiredSessionID(req *structpb.Struct) (string, error) {
	sessionID := strings.TrimSpace(req.GetFields()["session_id"].GetStringValue())
	if sessionID == "" {
		return "", invalidArgument("session_id is required")
	}
	return sessionID, nil
}

func invalidArgument(reason string) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidArgument, reason, map[string]string{"Reason": reason})
}

// toValue converts v to the generic JSON form structpb accepts.
func toValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %T: %w", v, err)
	}
	return out, nil
}

func sortBySessionID(infos []coordinator.SessionInfo) {
	sort.Slice(infos, func(i, j int) bool { return infos[i].SessionID < infos[j].SessionID })
}

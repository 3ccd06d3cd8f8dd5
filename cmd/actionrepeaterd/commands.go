package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"actionrepeater/internal/action"
	"actionrepeater/internal/control"
	"actionrepeater/internal/manager"
)

// ==============================
// Commands (IPC -> manager)
// ==============================

type handlerFunc func(d *dispatcher, data json.RawMessage) (any, error)

// dispatcher maps IPC command types onto manager operations. It is only
// used from the command loop.
type dispatcher struct {
	mgr    *manager.Manager
	logger *slog.Logger

	// playCtx parents every playback so daemon shutdown cancels it.
	playCtx context.Context
	// hub is nil when the state WebSocket is disabled.
	hub *Hub
}

func newDispatcher(playCtx context.Context, m *manager.Manager, logger *slog.Logger) *dispatcher {
	return &dispatcher{mgr: m, logger: logger, playCtx: playCtx}
}

var handlers = map[string]handlerFunc{
	control.CmdStatus:          (*dispatcher).status,
	control.CmdRecordStart:     (*dispatcher).recordStart,
	control.CmdRecordStop:      (*dispatcher).recordStop,
	control.CmdRecordToggle:    (*dispatcher).recordToggle,
	control.CmdPlay:            (*dispatcher).play,
	control.CmdCancel:          (*dispatcher).cancel,
	control.CmdList:            (*dispatcher).list,
	control.CmdAdd:             (*dispatcher).add,
	control.CmdInsert:          (*dispatcher).insert,
	control.CmdRemove:          (*dispatcher).remove,
	control.CmdReplace:         (*dispatcher).replace,
	control.CmdClearActions:    (*dispatcher).clearActions,
	control.CmdClearCursorPath: (*dispatcher).clearCursorPath,
	control.CmdClearAll:        (*dispatcher).clearAll,
	control.CmdGetOptions:      (*dispatcher).getOptions,
	control.CmdSetOptions:      (*dispatcher).setOptions,
	control.CmdExport:          (*dispatcher).export,
	control.CmdImport:          (*dispatcher).importFile,
}

func (d *dispatcher) handle(req control.Request) control.Response {
	h, ok := handlers[req.Type]
	if !ok {
		return control.Fail(fmt.Errorf("unknown command %q", req.Type))
	}
	out, err := h(d, req.Data)
	if err != nil {
		return control.Fail(err)
	}
	return control.OK(out)
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errors.New("missing data")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("parse data: %w", err)
	}
	return nil
}

func (d *dispatcher) status(json.RawMessage) (any, error) {
	st := control.Status{
		Recording:      d.mgr.IsRecording(),
		Playing:        d.mgr.IsPlaying(),
		Actions:        len(d.mgr.View()),
		TotalActions:   len(d.mgr.Actions()),
		HooksInstalled: d.mgr.HooksInstalled(),
	}
	if d.hub != nil {
		st.Watchers = d.hub.ClientCount()
	}
	if st.Recording {
		st.Session = d.mgr.RecordingSession().String()
	}
	if p := d.mgr.CursorPath(); p != nil {
		st.HasCursorPath = true
		st.Movements = len(p.Movements)
	}
	return st, nil
}

func (d *dispatcher) recording() control.RecordingResponse {
	r := control.RecordingResponse{Recording: d.mgr.IsRecording()}
	if r.Recording {
		r.Session = d.mgr.RecordingSession().String()
	}
	return r
}

func (d *dispatcher) recordStart(json.RawMessage) (any, error) {
	if err := d.mgr.StartRecording(); err != nil {
		return nil, err
	}
	return d.recording(), nil
}

func (d *dispatcher) recordStop(json.RawMessage) (any, error) {
	d.mgr.StopRecording()
	return d.recording(), nil
}

func (d *dispatcher) recordToggle(json.RawMessage) (any, error) {
	if _, err := d.mgr.ToggleRecording(); err != nil {
		return nil, err
	}
	return d.recording(), nil
}

func (d *dispatcher) play(json.RawMessage) (any, error) {
	if _, err := d.mgr.PlayActions(d.playCtx); err != nil {
		return nil, err
	}
	return nil, nil
}

func (d *dispatcher) cancel(json.RawMessage) (any, error) {
	d.mgr.CancelPlayback()
	return nil, nil
}

func (d *dispatcher) list(data json.RawMessage) (any, error) {
	var req control.ListRequest
	if len(data) > 0 {
		if err := decodeData(data, &req); err != nil {
			return nil, err
		}
	}
	actions := d.mgr.View()
	if req.All {
		actions = d.mgr.Actions()
	}

	resp := control.ListResponse{Actions: make([]control.ListEntry, 0, len(actions))}
	for i, a := range actions {
		env, err := action.Wrap(a)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		e := control.ListEntry{Index: i, Description: a.String(), Action: env, FullIndex: i}
		if !req.All {
			e.FullIndex = d.mgr.FullIndex(a)
			e.Folded = d.mgr.IsFolded(a)
		}
		resp.Actions = append(resp.Actions, e)
	}
	return resp, nil
}

func decodeAction(data json.RawMessage) (control.ActionRequest, action.Action, error) {
	var req control.ActionRequest
	if err := decodeData(data, &req); err != nil {
		return req, nil, err
	}
	a, err := action.Unwrap(req.Action)
	return req, a, err
}

func (d *dispatcher) add(data json.RawMessage) (any, error) {
	_, a, err := decodeAction(data)
	if err != nil {
		return nil, err
	}
	return nil, d.mgr.AddAction(a)
}

func (d *dispatcher) insert(data json.RawMessage) (any, error) {
	req, a, err := decodeAction(data)
	if err != nil {
		return nil, err
	}
	return nil, d.mgr.InsertAction(req.Index, a)
}

func (d *dispatcher) replace(data json.RawMessage) (any, error) {
	req, a, err := decodeAction(data)
	if err != nil {
		return nil, err
	}
	return nil, d.mgr.ReplaceAction(req.Index, a)
}

func (d *dispatcher) remove(data json.RawMessage) (any, error) {
	var req control.IndexRequest
	if err := decodeData(data, &req); err != nil {
		return nil, err
	}
	if _, err := d.mgr.RemoveActionAt(req.Index); err != nil {
		return nil, err
	}
	return nil, nil
}

func (d *dispatcher) clearActions(json.RawMessage) (any, error) {
	return nil, d.mgr.ClearActions()
}

func (d *dispatcher) clearCursorPath(json.RawMessage) (any, error) {
	return nil, d.mgr.ClearCursorPath()
}

func (d *dispatcher) clearAll(json.RawMessage) (any, error) {
	return nil, d.mgr.ClearAll()
}

func (d *dispatcher) getOptions(json.RawMessage) (any, error) {
	return d.mgr.Options(), nil
}

// setOptions applies a partial update: fields missing from data keep their
// current value.
func (d *dispatcher) setOptions(data json.RawMessage) (any, error) {
	opts := d.mgr.Options()
	if err := decodeData(data, &opts); err != nil {
		return nil, err
	}
	if err := d.mgr.SetOptions(opts); err != nil {
		return nil, err
	}
	return d.mgr.Options(), nil
}

func (d *dispatcher) export(json.RawMessage) (any, error) {
	var buf bytes.Buffer
	if err := d.mgr.Export(&buf); err != nil {
		return nil, err
	}
	return json.RawMessage(bytes.TrimSpace(buf.Bytes())), nil
}

func (d *dispatcher) importFile(data json.RawMessage) (any, error) {
	if len(data) == 0 {
		return nil, errors.New("missing data")
	}
	if err := d.mgr.Import(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return nil, nil
}

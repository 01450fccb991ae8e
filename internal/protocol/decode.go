package protocol

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Frame types on the event stream.
const (
	FrameStdout            = "stdout"
	FrameStderr            = "stderr"
	FrameRPCNotification   = "rpc-notification"
	FrameRPCRequest        = "rpc-request"
	FrameTurnEnd           = "turn-end"
	FrameDebug             = "debug"
	FrameError             = "error"
	FrameSetupScriptEvent  = "setup-script-event"
	FrameSessionIDReplaced = "session-id-replaced"
)

const (
	methodSessionNotification = "session_notification"
	methodRequestPermission   = "request_permission"
	methodAskUser             = "ask_user"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownType    = errors.New("unknown event type")
)

// DecodeFrame decodes one frame payload into a typed event stamped with at.
// Malformed JSON, frames missing required fields and unknown types return an
// error wrapping ErrMalformedFrame or ErrUnknownType; callers drop them.
func DecodeFrame(payload []byte, at time.Time) (Event, error) {
	if !gjson.ValidBytes(payload) {
		return nil, ErrMalformedFrame
	}
	record := gjson.ParseBytes(payload)
	if !record.IsObject() {
		return nil, ErrMalformedFrame
	}
	meta := Meta{At: at}
	frameType := strings.TrimSpace(record.Get("type").String())
	switch frameType {
	case FrameStdout, FrameStderr, FrameDebug:
		return Output{Meta: meta, Stream: frameType, Text: firstText(record, pathsOutputText...)}, nil
	case FrameTurnEnd:
		return TurnEnd{Meta: meta, Reason: firstString(record, "reason", "stopReason")}, nil
	case FrameError:
		message := firstText(record, pathsErrorMessage...)
		if message == "" {
			message = "Unknown error"
		}
		return StreamError{Meta: meta, Message: message}, nil
	case FrameSetupScriptEvent:
		return decodeSetupScript(record, meta), nil
	case FrameSessionIDReplaced:
		newID := firstString(record, pathsNewSessionID...)
		if newID == "" {
			return nil, fmt.Errorf("%w: session-id-replaced without new id", ErrMalformedFrame)
		}
		return SessionIDReplaced{Meta: meta, OldSessionID: firstString(record, pathsOldSessionID...), NewSessionID: newID}, nil
	case FrameRPCNotification:
		envelope, ok := rpcEnvelope(record)
		if !ok {
			return nil, fmt.Errorf("%w: notification without envelope", ErrMalformedFrame)
		}
		return decodeNotificationEnvelope(envelope, meta)
	case FrameRPCRequest:
		envelope, ok := rpcEnvelope(record)
		if !ok {
			return nil, fmt.Errorf("%w: request without envelope", ErrMalformedFrame)
		}
		return decodeRequestEnvelope(envelope, meta)
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	default:
		return nil, fmt.Errorf("%w: frame %q", ErrUnknownType, frameType)
	}
}

// rpcEnvelope finds the JSON-RPC message inside a frame record: it may be
// nested under one of pathsEnvelope or be the record itself.
func rpcEnvelope(record gjson.Result) (gjson.Result, bool) {
	for _, path := range pathsEnvelope {
		v := record.Get(path)
		if v.Type == gjson.String && gjson.Valid(v.Str) {
			v = gjson.Parse(v.Str)
		}
		if v.IsObject() && v.Get("method").Exists() {
			return v, true
		}
	}
	if record.Get("method").Exists() {
		return record, true
	}
	return gjson.Result{}, false
}

func methodIs(method, name string) bool {
	method = strings.TrimSpace(method)
	return method == name || strings.HasSuffix(method, "."+name) || strings.HasSuffix(method, "/"+name)
}

func decodeSetupScript(record gjson.Result, meta Meta) SetupScript {
	event, ok := firstObject(record, pathsSetupEvent...)
	if !ok {
		event = record
	}
	phase := strings.ToLower(firstString(event, pathsSetupPhase...))
	if phase == FrameSetupScriptEvent {
		phase = ""
	}
	switch phase {
	case SetupPhaseStarted, SetupPhaseOutput, SetupPhaseFinished, SetupPhaseFailed:
	case "start", "running":
		phase = SetupPhaseStarted
	case "done", "complete", "completed", "exit", "exited", "success":
		phase = SetupPhaseFinished
	case "error":
		phase = SetupPhaseFailed
	default:
		phase = SetupPhaseOutput
	}
	out := SetupScript{Meta: meta, Phase: phase, Output: firstText(event, pathsSetupOutput...)}
	if code := event.Get("exitCode"); code.Type == gjson.Number {
		value := int(code.Int())
		out.ExitCode = &value
		if value != 0 && phase == SetupPhaseFinished {
			out.Phase = SetupPhaseFailed
		}
	}
	return out
}

package storage

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/edisonibujes/CriptoIQ/internal/alarm"
)

// alarmRow is the column layout shared by the SQL backends.
type alarmRow struct {
	DedupKey     string
	ID           string
	Owner        string
	CanonicalKey string
	Kind         string
	Instrument   []byte
	Params       []byte
	State        []byte
	CreatedAt    time.Time
}

func toRow(a alarm.Alarm) (alarmRow, error) {
	inst, err := sonic.Marshal(a.Instrument)
	if err != nil {
		return alarmRow{}, fmt.Errorf("encode instrument: %w", err)
	}
	params, err := sonic.Marshal(a.Params)
	if err != nil {
		return alarmRow{}, fmt.Errorf("encode params: %w", err)
	}
	state, err := encodeState(a.State)
	if err != nil {
		return alarmRow{}, err
	}
	return alarmRow{
		DedupKey:     a.DedupKey(),
		ID:           a.ID.String(),
		Owner:        a.Owner,
		CanonicalKey: a.Instrument.Key(),
		Kind:         string(a.Kind()),
		Instrument:   inst,
		Params:       params,
		State:        state,
		CreatedAt:    a.CreatedAt.UTC(),
	}, nil
}

func (r alarmRow) toAlarm() (alarm.Alarm, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return alarm.Alarm{}, fmt.Errorf("parse alarm id: %w", err)
	}
	var inst alarm.Instrument
	if err := sonic.Unmarshal(r.Instrument, &inst); err != nil {
		return alarm.Alarm{}, fmt.Errorf("decode instrument: %w", err)
	}
	params, err := alarm.DecodeParams(alarm.Kind(r.Kind), r.Params)
	if err != nil {
		return alarm.Alarm{}, err
	}
	var state alarm.State
	if len(r.State) > 0 {
		if err := sonic.Unmarshal(r.State, &state); err != nil {
			return alarm.Alarm{}, fmt.Errorf("decode state: %w", err)
		}
	}
	return alarm.Alarm{
		ID:         id,
		Owner:      r.Owner,
		Instrument: inst,
		Params:     params,
		State:      state,
		CreatedAt:  r.CreatedAt.UTC(),
	}, nil
}

func encodeState(s alarm.State) ([]byte, error) {
	data, err := sonic.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return data, nil
}

package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"bax-receiver/internal/bax"
	"bax-receiver/internal/receiver"
	"bax-receiver/internal/session"
	"bax-receiver/internal/store"
)

// DeviceView merges the live device table with the persisted snapshot of
// the same address. Live is false for devices only known from snapshots,
// e.g. ones evicted from the table or heard before a restart.
type DeviceView struct {
	Address   string             `json:"address"`
	Name      string             `json:"name,omitempty"`
	Live      bool               `json:"live"`
	FirstSeen *time.Time         `json:"first_seen,omitempty"`
	LastSeen  *time.Time         `json:"last_seen,omitempty"`
	LastType  string             `json:"last_type,omitempty"`
	RSSI      *int               `json:"rssi,omitempty"`
	Packets   uint64             `json:"packets"`
	History   []receiver.Reading `json:"history,omitempty"`
}

func (v *DeviceView) applySnapshot(d *store.Device) {
	first, last, rssi := d.FirstSeen, d.LastSeen, d.RSSI
	v.FirstSeen, v.LastSeen, v.RSSI = &first, &last, &rssi
	v.LastType = bax.PacketType(d.LastType).String()
	v.Packets = d.Packets
	if v.Name == "" {
		v.Name = d.Name
	}
}

func liveView(d receiver.Device) DeviceView {
	return DeviceView{Address: d.Address, Name: d.Name, Live: true, History: d.History}
}

func (s *Server) handleAPIListDevices(w http.ResponseWriter, r *http.Request) {
	live := s.rcv.Devices()
	views := make([]DeviceView, 0, len(live))
	index := make(map[string]int, len(live))
	for _, d := range live {
		index[d.Address] = len(views)
		views = append(views, liveView(d))
	}

	if s.snapshots != nil {
		snaps, err := s.snapshots.ListDevices()
		if err != nil {
			s.logger.Error("list device snapshots", "err", err)
			s.writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		var stale []DeviceView
		for _, snap := range snaps {
			if i, ok := index[snap.Address]; ok {
				views[i].applySnapshot(snap)
				continue
			}
			v := DeviceView{Address: snap.Address}
			v.applySnapshot(snap)
			stale = append(stale, v)
		}
		sort.Slice(stale, func(i, j int) bool { return stale[i].Address < stale[j].Address })
		views = append(views, stale...)
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAPIGetDevice(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.pathAddress(w, r)
	if !ok {
		return
	}
	key := bax.AddressString(addr)

	var v DeviceView
	found := false
	if d, ok := s.rcv.Device(addr); ok {
		v, found = liveView(d), true
	}
	if s.snapshots != nil {
		snap, err := s.snapshots.GetDevice(key)
		switch {
		case err == nil:
			if !found {
				v = DeviceView{Address: key}
			}
			v.applySnapshot(snap)
			found = true
		case !errors.Is(err, store.ErrNotFound):
			s.logger.Error("get device snapshot", "err", err, "address", key)
		}
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "device not found")
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

type renameDeviceRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleAPIRenameDevice(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.pathAddress(w, r)
	if !ok {
		return
	}

	var req renameDeviceRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.writeError(w, http.StatusBadRequest, "name must not be empty")
		return
	}

	dev, err := s.rcv.Rename(addr, req.Name)
	if err != nil {
		if errors.Is(err, receiver.ErrUnknownDevice) {
			s.writeError(w, http.StatusNotFound, "device not found")
			return
		}
		s.logger.Error("rename device", "err", err, "address", bax.AddressString(addr))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "address": dev.Address, "name": dev.Name})
}

// handleAPIForgetDevice drops the persisted snapshot of a device. The live
// table is untouched; a device that keeps transmitting gets a fresh snapshot.
func (s *Server) handleAPIForgetDevice(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.pathAddress(w, r)
	if !ok {
		return
	}
	if s.snapshots == nil {
		s.writeError(w, http.StatusNotFound, "device not found")
		return
	}
	key := bax.AddressString(addr)
	if _, err := s.snapshots.GetDevice(key); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "device not found")
			return
		}
		s.logger.Error("get device snapshot", "err", err, "address", key)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err := s.snapshots.DeleteDevice(key); err != nil {
		s.logger.Error("delete device snapshot", "err", err, "address", key)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.logger.Info("device snapshot removed", "address", key)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) pathAddress(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	addr, err := bax.ParseAddress(r.PathValue("address"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid address")
		return 0, false
	}
	return addr, true
}

type statusResponse struct {
	Version  string          `json:"version,omitempty"`
	Receiver receiver.Stats  `json:"receiver"`
	Session  *session.Status `json:"session,omitempty"`
}

func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Version:  s.version,
		Receiver: s.rcv.Stats(),
	}
	if s.session != nil {
		st := s.session.Status()
		resp.Session = &st
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

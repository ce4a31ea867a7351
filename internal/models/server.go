package models

import "time"

// ServerStatus represents the last observed state of one upstream server.
type ServerStatus struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Name        string    `json:"name"`
	Connected   bool      `json:"connected"`
	LastPoll    time.Time `json:"lastPoll"`
	LastError   string    `json:"lastError,omitempty"`
	ObjectCount int       `json:"objectCount"`
}

// CatalogGroup is one server's entry in the rendered catalog. Objects holds
// the freshly fetched list when connected, otherwise the last known list.
type CatalogGroup struct {
	ServerID   string    `json:"serverId"`
	ServerName string    `json:"serverName"`
	Connected  bool      `json:"connected"`
	Objects    []string  `json:"objects"`
	LastPoll   time.Time `json:"lastPoll"`
	LastError  string    `json:"lastError,omitempty"`
}

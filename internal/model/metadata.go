package model

import (
	"os"
	"path/filepath"
	"runtime"
)

// Metadata describes the process producing events. It is the first line of
// every intake request.
type Metadata struct {
	Service Service `json:"service"`
	Process Process `json:"process"`
	System  System  `json:"system"`
	Labels  Labels  `json:"labels,omitempty"`
}

// Service identifies the instrumented service and the agent inside it.
type Service struct {
	Name        string    `json:"name"`
	Version     string    `json:"version,omitempty"`
	Environment string    `json:"environment,omitempty"`
	Node        *Node     `json:"node,omitempty"`
	Agent       Agent     `json:"agent"`
	Language    Framework `json:"language"`
	Runtime     Framework `json:"runtime"`
}

// Node names one instance of a service.
type Node struct {
	ConfiguredName string `json:"configured_name,omitempty"`
}

// Agent describes this agent.
type Agent struct {
	Name             string `json:"name"`
	Version          string `json:"version"`
	EphemeralID      string `json:"ephemeral_id,omitempty"`
	ActivationMethod string `json:"activation_method,omitempty"`
}

// Framework is a name/version pair.
type Framework struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// Process describes the OS process.
type Process struct {
	Pid   int      `json:"pid"`
	Ppid  int      `json:"ppid,omitempty"`
	Title string   `json:"title,omitempty"`
	Argv  []string `json:"argv,omitempty"`
}

// System describes the host.
type System struct {
	Hostname     string `json:"detected_hostname,omitempty"`
	Architecture string `json:"architecture"`
	Platform     string `json:"platform"`
}

// NewMetadata fills the process and system sections from the running
// process.
func NewMetadata(service Service, labels Labels) Metadata {
	hostname, _ := os.Hostname()
	service.Language = Framework{Name: "go", Version: runtime.Version()}
	service.Runtime = Framework{Name: runtime.Compiler, Version: runtime.Version()}
	return Metadata{
		Service: service,
		Process: Process{
			Pid:   os.Getpid(),
			Ppid:  os.Getppid(),
			Title: filepath.Base(os.Args[0]),
			Argv:  os.Args,
		},
		System: System{
			Hostname:     hostname,
			Architecture: runtime.GOARCH,
			Platform:     runtime.GOOS,
		},
		Labels: labels,
	}
}

// WithoutActivationMethod returns a copy of m for collectors that do not
// know the activation_method field.
func (m Metadata) WithoutActivationMethod() Metadata {
	m.Service.Agent.ActivationMethod = ""
	return m
}

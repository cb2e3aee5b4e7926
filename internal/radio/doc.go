// Package radio defines the platform radio abstraction consumed by the
// provisioning components: scan, AP-mode, and station-mode requests plus
// the asynchronous event stream their outcomes arrive on.
//
// The request/event split mirrors how embedded network stacks behave:
// submitting a scan or a connect returns immediately, and the real result
// is delivered later from the platform's own context. Components that
// need a synchronous answer bridge the gap with a one-shot channel owned
// by the single in-flight operation.
//
// Concrete drivers live in sub-packages: radio/iwd drives a real wireless
// interface through the iwd daemon's D-Bus API, and radio/fake is a
// scripted in-memory driver for tests.
package radio

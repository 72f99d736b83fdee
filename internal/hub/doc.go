// Package hub tracks the live connection Managers of a server and publishes
// payloads to all of them, for example to push a hot-reload update to every
// attached client.
package hub

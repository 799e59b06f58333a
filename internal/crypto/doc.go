// Package crypto implements murmur's three cryptographic layers.
//
// At rest, every artifact belonging to a meeting is AES-256-CBC encrypted
// under a per-meeting data key and IV. The data key itself is stored wrapped
// with AES-256-GCM under the process master key. For delivery, each request
// gets a fresh session key and IV, RSA-OAEP encrypted under the client's
// public key, and the artifact is streamed through AES-256-CBC with the
// session parameters so cleartext never crosses the wire.
//
// The layers are deliberately separate types: a data key never leaves the
// process unwrapped, and a session key never touches disk.
package crypto

//go:build !portaudio

package main

import "github.com/MrWong99/murmur/internal/config"

// registerAudio registers nothing; the PortAudio device needs the portaudio
// build tag and the C library.
func registerAudio(*config.Registry) {}

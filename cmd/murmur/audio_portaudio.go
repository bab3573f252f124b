//go:build portaudio

package main

import (
	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/audio/portaudio"
)

func registerAudio(reg *config.Registry) {
	reg.RegisterAudio("portaudio", func(config.ProviderEntry) (audio.Device, error) {
		dev, err := portaudio.New()
		if err != nil {
			return nil, err
		}
		return dev, nil
	})
}

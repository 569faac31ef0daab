// Package audio drives the speaker for aura.
// It uses the beep library to loop a WAV, OGG or MP3 background sound with
// volume control, and to play sine tones over it.
package audio

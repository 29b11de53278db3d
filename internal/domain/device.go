package domain

type Device struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Address     string `json:"address"`
	IsAudioOnly bool   `json:"is_audio_only"`
	Protocol    string `json:"protocol"`
}

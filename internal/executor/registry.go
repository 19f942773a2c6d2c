package executor

// ServiceMapping is the (domain, service, action-inference rule) spec §4.8
// calls for: each intent resolves to one upstream service call shape.
type ServiceMapping struct {
	Domain  string
	Service string
	// BuildData derives the service_data payload from extracted slots.
	BuildData func(slots map[string]any) map[string]any
}

// SafeSet is the speculative-eligible intent family set (spec §4.8).
// Lock/security, scenes, memory writes, and anything destructive or
// authentication-sensitive are deliberately excluded and never added here.
var SafeSet = map[string]bool{
	"light":        true,
	"climate":      true,
	"media":        true,
	"cover":        true,
	"time_query":   true,
	"weather_query": true,
}

// DefaultRegistry is the curated intent -> service mapping table.
func DefaultRegistry() map[string]ServiceMapping {
	return map[string]ServiceMapping{
		"light_on": {Domain: "light", Service: "turn_on", BuildData: brightnessPayload},
		"light_off": {Domain: "light", Service: "turn_off", BuildData: noPayload},
		"light_dim": {Domain: "light", Service: "turn_on", BuildData: brightnessPayload},

		"cover_open":  {Domain: "cover", Service: "open_cover", BuildData: noPayload},
		"cover_close": {Domain: "cover", Service: "close_cover", BuildData: noPayload},
		"cover_set":   {Domain: "cover", Service: "set_cover_position", BuildData: coverPositionPayload},

		"climate_set": {Domain: "climate", Service: "set_temperature", BuildData: temperaturePayload},

		"media_play":  {Domain: "media_player", Service: "media_play", BuildData: noPayload},
		"media_pause": {Domain: "media_player", Service: "media_pause", BuildData: noPayload},
		"media_volume": {Domain: "media_player", Service: "volume_set", BuildData: volumePayload},

		"lock_lock":   {Domain: "lock", Service: "lock", BuildData: noPayload},
		"lock_unlock": {Domain: "lock", Service: "unlock", BuildData: noPayload},
	}
}

func noPayload(slots map[string]any) map[string]any { return nil }

func brightnessPayload(slots map[string]any) map[string]any {
	if v, ok := slots["brightness_pct"]; ok {
		return map[string]any{"brightness_pct": v}
	}
	return nil
}

func coverPositionPayload(slots map[string]any) map[string]any {
	if v, ok := slots["position"]; ok {
		return map[string]any{"position": v}
	}
	return nil
}

func temperaturePayload(slots map[string]any) map[string]any {
	data := map[string]any{}
	if v, ok := slots["temperature"]; ok {
		data["temperature"] = v
	}
	if v, ok := slots["color_temp"]; ok {
		data["color_temp"] = v
	}
	if len(data) == 0 {
		return nil
	}
	return data
}

func volumePayload(slots map[string]any) map[string]any {
	if v, ok := slots["volume"]; ok {
		return map[string]any{"volume_level": v}
	}
	return nil
}

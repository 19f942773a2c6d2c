package main

// seedPhrases is the curated fast-pattern table S1 starts from (spec
// §4.5: "curated table of ≈50 phrases"). Coverage matches the intents
// DefaultRegistry and the time/weather informational intents dispatch.
func seedPhrases() map[string]string {
	return map[string]string{
		"turn on the lights":    "light_on",
		"turn the lights on":    "light_on",
		"lights on":             "light_on",
		"turn off the lights":   "light_off",
		"turn the lights off":   "light_off",
		"lights off":            "light_off",
		"dim the lights":        "light_dim",
		"set brightness to 50":  "light_dim",
		"open the blinds":       "cover_open",
		"open the curtains":     "cover_open",
		"close the blinds":      "cover_close",
		"close the curtains":    "cover_close",
		"set the blinds to half": "cover_set",
		"set the temperature to 70": "climate_set",
		"make it warmer":        "climate_set",
		"make it cooler":        "climate_set",
		"play music":            "media_play",
		"resume playback":       "media_play",
		"pause the music":       "media_pause",
		"stop the music":        "media_pause",
		"turn up the volume":    "media_volume",
		"turn down the volume":  "media_volume",
		"lock the front door":   "lock_lock",
		"lock the door":         "lock_lock",
		"unlock the front door": "lock_unlock",
		"unlock the door":       "lock_unlock",
		"what time is it":       "time_query",
		"what's the time":       "time_query",
		"what's the weather":    "weather_query",
		"what's the forecast":   "weather_query",
		"is it raining":         "weather_query",
	}
}

// seedExamples is the per-intent labeled-utterance set S2's embedding
// centroids and S3's reference classifier are both built from.
func seedExamples() map[string][]string {
	return map[string][]string{
		"light_on":    {"turn on the kitchen lights", "switch the lights on", "can you light up the living room"},
		"light_off":   {"turn off the bedroom lights", "switch the lights off", "kill the lights"},
		"light_dim":   {"dim the living room lights", "lower the brightness", "make the lights dimmer"},
		"cover_open":  {"open the living room blinds", "raise the curtains", "let some light in"},
		"cover_close": {"close the bedroom blinds", "lower the curtains", "shut the blinds"},
		"cover_set":   {"set the blinds to 30 percent", "move the curtains halfway"},
		"climate_set": {"set the thermostat to 68", "turn the heat up", "make the house cooler"},
		"media_play":  {"play the living room speaker", "start the music", "resume my podcast"},
		"media_pause": {"pause the tv", "stop playback", "pause the speaker"},
		"media_volume": {"turn the volume up", "lower the volume on the speaker", "make it louder"},
		"lock_lock":   {"lock the back door", "secure the front door", "lock up"},
		"lock_unlock": {"unlock the garage", "open the lock on the front door"},
		"time_query":  {"tell me the time", "what time do we have"},
		"weather_query": {"will it rain today", "how's the weather outside", "give me the forecast"},
	}
}

// seedIntents is the full label set S4's LLM fallback is constrained to.
func seedIntents() []string {
	examples := seedExamples()
	intents := make([]string, 0, len(examples))
	for intent := range examples {
		intents = append(intents, intent)
	}
	return intents
}

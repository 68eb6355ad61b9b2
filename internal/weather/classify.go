package weather

// Condition is a coarse weather label derived from a provider condition code.
type Condition string

const (
	Thunderstorm Condition = "thunderstorm"
	Drizzle      Condition = "drizzle"
	Rain         Condition = "rain"
	Snow         Condition = "snow"
	Mist         Condition = "mist"
	Clear        Condition = "clear"
	Cloudy       Condition = "cloudy"
)

// Classify maps an OpenWeather condition id to its family. Ids are grouped
// by hundreds (2xx thunderstorm, 3xx drizzle, ...), 800 is clear sky and
// 80x are clouds. Bands are checked in order and the first match wins.
func Classify(code int32) Condition {
	switch {
	case code < 300:
		return Thunderstorm
	case code < 400:
		return Drizzle
	case code < 600:
		return Rain
	case code < 700:
		return Snow
	case code < 800:
		return Mist
	case code == 800:
		return Clear
	default:
		return Cloudy
	}
}

// Package domain models weather observations collected for the precipitation
// prediction dataset.
//
// # Data Sources
//
// Two sources feed the same relational tables:
//
// Forecast: the OpenWeatherMap 5-day/3-hour forecast endpoint
// (https://api.openweathermap.org/data/2.5/forecast) queried with units=metric.
// The body carries a "list" array; each item looks like:
//
//	{"dt": 1700000000, "main": {"temp": 18.5, "humidity": 60}, "rain": {"3h": 0.4}}
//
//	dt          Unix epoch seconds (UTC) of the forecast slot.
//	main.temp   Degrees Celsius (units=metric).
//	main.humidity  Relative humidity in percent.
//	rain.3h     Rain volume for the 3-hour slot in mm. The whole "rain" object
//	            is omitted when no rain is forecast; that means 0, not unknown.
//
// Historical: a bundled statistics file (OpenWeatherMap "aggregated day"
// format) with a "result" array of per-calendar-day means and no year:
//
//	{"month": 1, "day": 15, "temp": {"mean": 280.15},
//	 "precipitation": {"mean": 2.0}, "humidity": {"mean": 80}}
//
//	temp.mean           Kelvin. Converted with celsius = kelvin - 273.15.
//	precipitation.mean  Mean daily precipitation in mm.
//	humidity.mean       Mean relative humidity in percent.
//
// The year is fixed externally by the loader. Month/day pairs are checked
// against the calendar of that year before anything else happens, so
// 2024-02-30 is rejected while 2024-02-29 is accepted.
//
// # Canonical Shape
//
// Both sources converge on [Observation]: timestamp (second precision, UTC),
// temperature in Celsius, precipitation in mm and humidity in percent. The
// timestamp doubles as the de-facto deduplication key of a target table.
//
// Measurements are pointers so that an absent field stays distinguishable
// from a measured zero all the way to the [Validator].
package domain

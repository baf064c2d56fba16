package services

import (
	"math"

	"github.com/blocshub/collab/collab"
)

type city struct {
	name      string
	country   string
	latitude  float64
	longitude float64
}

// small built-in gazetteer. Lookups resolve to the nearest entry.
var cities = []city{
	{"Nashville", "United States", 36.1627, -86.7816},
	{"New York", "United States", 40.7128, -74.0060},
	{"Los Angeles", "United States", 34.0522, -118.2437},
	{"London", "United Kingdom", 51.5074, -0.1278},
	{"Paris", "France", 48.8566, 2.3522},
	{"Berlin", "Germany", 52.5200, 13.4050},
	{"Tokyo", "Japan", 35.6762, 139.6503},
	{"Beijing", "China", 39.9042, 116.4074},
	{"Sydney", "Australia", -33.8688, 151.2093},
	{"São Paulo", "Brazil", -23.5505, -46.6333},
	{"Lagos", "Nigeria", 6.5244, 3.3792},
	{"Mumbai", "India", 19.0760, 72.8777},
	{"Cairo", "Egypt", 30.0444, 31.2357},
	{"Moscow", "Russia", 55.7558, 37.6173},
	{"Mexico City", "Mexico", 19.4326, -99.1332},
}

const earthRadiusKm = 6371.0

// great-circle distance in km
func haversineKm(lat1 float64, lon1 float64, lat2 float64, lon2 float64) float64 {
	toRad := func(deg float64) float64 {
		return deg * math.Pi / 180
	}
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

func nearestCity(latitude float64, longitude float64) city {
	nearest := cities[0]
	nearestDistance := haversineKm(latitude, longitude, nearest.latitude, nearest.longitude)
	for _, candidate := range cities[1:] {
		distance := haversineKm(latitude, longitude, candidate.latitude, candidate.longitude)
		if distance < nearestDistance {
			nearest = candidate
			nearestDistance = distance
		}
	}
	return nearest
}

// NewGeolocationService resolves coordinates to the nearest known city.
func NewGeolocationService() *collab.Service {
	coordinateParams := []collab.ServiceParameter{
		{Name: "latitude", Type: "Latitude"},
		{Name: "longitude", Type: "Longitude"},
	}

	return &collab.Service{
		Name:              "geolocation",
		CompatibilityPath: "GeoLocation",
		ArgumentAliases: map[string]map[string]string{
			"city": {
				"latitude":  "lat",
				"longitude": "lng",
			},
			"country": {
				"latitude":  "lat",
				"longitude": "lng",
			},
			"info": {
				"latitude":  "lat",
				"longitude": "lng",
			},
		},
		Actions: []*collab.ServiceAction{
			{
				Name:       "city",
				Parameters: coordinateParams,
				Handler: func(call *collab.ServiceCall) (any, error) {
					nearest := nearestCity(call.FloatArg("latitude"), call.FloatArg("longitude"))
					return nearest.name, nil
				},
			},
			{
				Name:       "country",
				Parameters: coordinateParams,
				Handler: func(call *collab.ServiceCall) (any, error) {
					nearest := nearestCity(call.FloatArg("latitude"), call.FloatArg("longitude"))
					return nearest.country, nil
				},
			},
			{
				Name:       "info",
				Parameters: coordinateParams,
				Handler: func(call *collab.ServiceCall) (any, error) {
					latitude := call.FloatArg("latitude")
					longitude := call.FloatArg("longitude")
					nearest := nearestCity(latitude, longitude)
					return map[string]any{
						"city":       nearest.name,
						"country":    nearest.country,
						"distanceKm": math.Round(haversineKm(latitude, longitude, nearest.latitude, nearest.longitude)),
					}, nil
				},
			},
		},
	}
}

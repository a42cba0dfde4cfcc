package storage

import (
	"encoding/json"
	"fmt"

	"github.com/transitdata/serviceinfo/model"
	"github.com/transitdata/serviceinfo/timeutil"
)

// Wire records for persisted services. The store owns the persisted
// bytes: services are encoded on write and decoded into fresh values
// on read, so callers never share memory with the store.

type stopRecord struct {
	StopCode                   string            `json:"stop_code"`
	StopName                   string            `json:"stop_name"`
	ArrivalTime                string            `json:"arrival_time"`
	DepartureTime              string            `json:"departure_time"`
	ScheduledArrivalPlatform   string            `json:"scheduled_arrival_platform"`
	ActualArrivalPlatform      string            `json:"actual_arrival_platform"`
	ScheduledDeparturePlatform string            `json:"scheduled_departure_platform"`
	ActualDeparturePlatform    string            `json:"actual_departure_platform"`
	ArrivalDelay               int               `json:"arrival_delay"`
	DepartureDelay             int               `json:"departure_delay"`
	CancelledArrival           bool              `json:"cancelled_arrival"`
	CancelledDeparture         bool              `json:"cancelled_departure"`
	ServiceNumber              string            `json:"servicenumber"`
	Attributes                 []attributeRecord `json:"attributes"`
}

type attributeRecord struct {
	Code           string `json:"code"`
	Description    string `json:"description"`
	ProcessingCode string `json:"processing_code"`
}

type serviceRecord struct {
	Cancelled                bool   `json:"cancelled"`
	CompanyCode              string `json:"company_code"`
	CompanyName              string `json:"company_name"`
	TransportMode            string `json:"transport_mode"`
	TransportModeDescription string `json:"transport_mode_description"`
	ServiceNumber            string `json:"servicenumber"`
	FirstDeparture           string `json:"first_departure"`
	LastArrival              string `json:"last_arrival"`

	// Stops as a JSON array, kept encoded so summary reads skip it.
	Stops string `json:"stops"`
}

func encodeService(service *model.Service, stops []*model.ServiceStop) (serviceRecord, error) {
	stopRecords := make([]stopRecord, 0, len(stops))
	for _, stop := range stops {
		rec := stopRecord{
			StopCode:                   stop.StopCode,
			StopName:                   stop.StopName,
			ArrivalTime:                timeutil.ISO8601(stop.ArrivalTime),
			DepartureTime:              timeutil.ISO8601(stop.DepartureTime),
			ScheduledArrivalPlatform:   stop.ScheduledArrivalPlatform,
			ActualArrivalPlatform:      stop.ActualArrivalPlatform,
			ScheduledDeparturePlatform: stop.ScheduledDeparturePlatform,
			ActualDeparturePlatform:    stop.ActualDeparturePlatform,
			ArrivalDelay:               stop.ArrivalDelay,
			DepartureDelay:             stop.DepartureDelay,
			CancelledArrival:           stop.CancelledArrival,
			CancelledDeparture:         stop.CancelledDeparture,
			ServiceNumber:              stop.ServiceNumber,
		}
		for _, attr := range stop.Attributes {
			rec.Attributes = append(rec.Attributes, attributeRecord{
				Code:           attr.Code,
				Description:    attr.Description,
				ProcessingCode: attr.Processing.String(),
			})
		}
		stopRecords = append(stopRecords, rec)
	}

	encoded, err := json.Marshal(stopRecords)
	if err != nil {
		return serviceRecord{}, fmt.Errorf("encoding stops: %w", err)
	}

	record := serviceRecord{
		Cancelled:                service.Cancelled,
		CompanyCode:              service.CompanyCode,
		CompanyName:              service.CompanyName,
		TransportMode:            service.TransportMode,
		TransportModeDescription: service.TransportModeDescription,
		ServiceNumber:            service.ServiceNumber,
		Stops:                    string(encoded),
	}
	if len(stops) > 0 {
		record.FirstDeparture = timeutil.ISO8601(stops[0].DepartureTime)
		record.LastArrival = timeutil.ISO8601(stops[len(stops)-1].ArrivalTime)
	}
	return record, nil
}

func decodeService(date, serviceID string, st StoreType, record serviceRecord) (*model.Service, error) {
	serviceDate, err := timeutil.ParseDate(date)
	if err != nil {
		return nil, err
	}

	service := model.NewService()
	service.ServiceID = serviceID
	service.ServiceDate = serviceDate
	service.Source = string(st)
	service.Cancelled = record.Cancelled
	service.CompanyCode = record.CompanyCode
	service.CompanyName = record.CompanyName
	service.TransportMode = record.TransportMode
	service.TransportModeDescription = record.TransportModeDescription
	service.ServiceNumber = record.ServiceNumber

	var stopRecords []stopRecord
	if err := json.Unmarshal([]byte(record.Stops), &stopRecords); err != nil {
		return nil, fmt.Errorf("decoding stops for service %s: %w", serviceID, err)
	}

	for _, rec := range stopRecords {
		stop := model.NewServiceStop(rec.StopCode)
		stop.StopName = rec.StopName
		if stop.ArrivalTime, err = timeutil.ParseISO8601(rec.ArrivalTime); err != nil {
			return nil, fmt.Errorf("service %s stop %s: %w", serviceID, rec.StopCode, err)
		}
		if stop.DepartureTime, err = timeutil.ParseISO8601(rec.DepartureTime); err != nil {
			return nil, fmt.Errorf("service %s stop %s: %w", serviceID, rec.StopCode, err)
		}
		stop.ScheduledArrivalPlatform = rec.ScheduledArrivalPlatform
		stop.ActualArrivalPlatform = rec.ActualArrivalPlatform
		stop.ScheduledDeparturePlatform = rec.ScheduledDeparturePlatform
		stop.ActualDeparturePlatform = rec.ActualDeparturePlatform
		stop.ArrivalDelay = rec.ArrivalDelay
		stop.DepartureDelay = rec.DepartureDelay
		stop.CancelledArrival = rec.CancelledArrival
		stop.CancelledDeparture = rec.CancelledDeparture
		stop.ServiceNumber = rec.ServiceNumber
		for _, attr := range rec.Attributes {
			stop.Attributes = append(stop.Attributes, model.Attribute{
				Code:        attr.Code,
				Description: attr.Description,
				Processing:  model.ParseAttributeProcessing(attr.ProcessingCode),
			})
		}
		service.Stops = append(service.Stops, stop)
	}

	return service, nil
}

func (r serviceRecord) summary() (Summary, error) {
	first, err := timeutil.ParseISO8601(r.FirstDeparture)
	if err != nil {
		return Summary{}, fmt.Errorf("first departure: %w", err)
	}
	last, err := timeutil.ParseISO8601(r.LastArrival)
	if err != nil {
		return Summary{}, fmt.Errorf("last arrival: %w", err)
	}
	return Summary{
		ServiceNumber:            r.ServiceNumber,
		Cancelled:                r.Cancelled,
		CompanyCode:              r.CompanyCode,
		CompanyName:              r.CompanyName,
		TransportMode:            r.TransportMode,
		TransportModeDescription: r.TransportModeDescription,
		FirstDeparture:           first,
		LastArrival:              last,
	}, nil
}

// secondaryNumbers collects the distinct per-stop service numbers of a
// service, the deleted-wings cleanup set.
func secondaryNumbers(service *model.Service) []string {
	seen := map[string]bool{service.ServiceNumber: true}
	numbers := []string{service.ServiceNumber}
	for _, stop := range service.Stops {
		if stop.ServiceNumber != "" && !seen[stop.ServiceNumber] {
			seen[stop.ServiceNumber] = true
			numbers = append(numbers, stop.ServiceNumber)
		}
	}
	return numbers
}

package catalog

// Default returns the catalog of the three known export layouts in detection
// priority order: schema 1, schema 2, schema 3.
//
// It panics if the built-in definitions are inconsistent, which is a programming
// error caught by tests.
func Default() *Catalog {
	c, err := New(schema1(), schema2(), schema3())
	if err != nil {
		panic(err)
	}
	return c
}

func schema1() Schema {
	return Schema{
		ID:             Schema1,
		Table:          "bike_rentals_schema1",
		Discriminating: []string{"Rental Id", "Bike Id", "EndStation Id", "StartStation Id"},
		Columns: []string{
			"Rental Id", "Duration", "Bike Id", "End Date", "EndStation Id",
			"EndStation Name", "Start Date", "StartStation Id", "StartStation Name",
		},
		Rename: map[string]string{
			"Rental Id":         "Rental_Id",
			"Bike Id":           "Bike_Id",
			"End Date":          "End_Date",
			"EndStation Id":     "EndStation_Id",
			"EndStation Name":   "EndStation_Name",
			"Start Date":        "Start_Date",
			"StartStation Id":   "StartStation_Id",
			"StartStation Name": "StartStation_Name",
		},
		Fields: []Field{
			{Name: "Rental_Id", Kind: KindInt, Required: true},
			{Name: "Duration", Kind: KindInt, Required: true},
			{Name: "Bike_Id", Kind: KindInt, Required: true},
			{Name: "End_Date", Kind: KindText},
			{Name: "EndStation_Id", Kind: KindInt},
			{Name: "EndStation_Name", Kind: KindText},
			{Name: "Start_Date", Kind: KindText},
			{Name: "StartStation_Id", Kind: KindInt},
			{Name: "StartStation_Name", Kind: KindText},
		},
		Projection: Projection{
			RentalID:         "Rental_Id",
			Duration:         "Duration",
			DurationUnit:     Seconds,
			BikeID:           "Bike_Id",
			EndDate:          "End_Date",
			EndStationID:     "EndStation_Id",
			EndStationName:   "EndStation_Name",
			StartDate:        "Start_Date",
			StartStationID:   "StartStation_Id",
			StartStationName: "StartStation_Name",
		},
	}
}

// schema2 is the 2022+ layout: alphanumeric station and bike codes, duration in
// milliseconds.
func schema2() Schema {
	return Schema{
		ID:             Schema2,
		Table:          "bike_rentals_schema2",
		Discriminating: []string{"Number", "Start station number", "End station number", "Bike number"},
		Columns: []string{
			"Number", "Start date", "Start station number", "Start station",
			"End date", "End station number", "End station", "Bike number",
			"Bike model", "Total duration", "Total duration (ms)",
		},
		Rename: map[string]string{
			"Number":               "Number",
			"Start date":           "Start_date",
			"Start station number": "Start_station_number",
			"Start station":        "Start_station",
			"End date":             "End_date",
			"End station number":   "End_station_number",
			"End station":          "End_station",
			"Bike number":          "Bike_number",
			"Bike model":           "Bike_model",
			"Total duration":       "Total_duration",
			"Total duration (ms)":  "Total_duration_ms",
		},
		Fields: []Field{
			{Name: "Number", Kind: KindText, Required: true},
			{Name: "Start_date", Kind: KindText},
			{Name: "Start_station_number", Kind: KindText},
			{Name: "Start_station", Kind: KindText},
			{Name: "End_date", Kind: KindText},
			{Name: "End_station_number", Kind: KindText},
			{Name: "End_station", Kind: KindText},
			{Name: "Bike_number", Kind: KindText, Required: true},
			{Name: "Bike_model", Kind: KindText},
			{Name: "Total_duration", Kind: KindText},
			{Name: "Total_duration_ms", Kind: KindInt, Required: true},
		},
		Projection: Projection{
			RentalID:         "Number",
			Duration:         "Total_duration_ms",
			DurationUnit:     Milliseconds,
			BikeID:           "Bike_number",
			EndDate:          "End_date",
			EndStationID:     "End_station_number",
			EndStationName:   "End_station",
			StartDate:        "Start_date",
			StartStationID:   "Start_station_number",
			StartStationName: "Start_station",
		},
	}
}

// schema3 matches schema 1 without the end-station id column.
func schema3() Schema {
	return Schema{
		ID:             Schema3,
		Table:          "bike_rentals_schema3",
		Discriminating: []string{"EndStation Name", "StartStation Name"},
		Columns: []string{
			"Rental Id", "Duration", "Bike Id", "End Date",
			"EndStation Name", "Start Date", "StartStation Id", "StartStation Name",
		},
		Rename: map[string]string{
			"Rental Id":         "Rental_Id",
			"Bike Id":           "Bike_Id",
			"End Date":          "End_Date",
			"EndStation Name":   "EndStation_Name",
			"Start Date":        "Start_Date",
			"StartStation Id":   "StartStation_Id",
			"StartStation Name": "StartStation_Name",
		},
		Fields: []Field{
			{Name: "Rental_Id", Kind: KindInt, Required: true},
			{Name: "Duration", Kind: KindInt, Required: true},
			{Name: "Bike_Id", Kind: KindInt, Required: true},
			{Name: "End_Date", Kind: KindText},
			{Name: "EndStation_Name", Kind: KindText},
			{Name: "Start_Date", Kind: KindText},
			{Name: "StartStation_Id", Kind: KindInt},
			{Name: "StartStation_Name", Kind: KindText},
		},
		Projection: Projection{
			RentalID:         "Rental_Id",
			Duration:         "Duration",
			DurationUnit:     Seconds,
			BikeID:           "Bike_Id",
			EndDate:          "End_Date",
			EndStationName:   "EndStation_Name",
			StartDate:        "Start_Date",
			StartStationID:   "StartStation_Id",
			StartStationName: "StartStation_Name",
		},
	}
}

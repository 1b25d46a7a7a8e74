package projection

func productionJobKind() Kind {
	return Kind{
		Tag:   "ProductionJob",
		Table: "stg_production_jobs",
		Key:   "job_id",
		Columns: []Column{
			required("job_id", UUID),
			col("product_id", Text),
			col("status", Text),
			col("qty_per_job", Int),
			col("production_duration_hours", Int),
			col("components", Document),
			eventTime("event_timestamp"),
		},
		Renames: map[string]string{"bill_of_materials": "components"},
		Drops:   []string{"estimated_cost"},
	}
}

func productionStartKind() Kind {
	return Kind{
		Tag:   "ProductionStart",
		Table: "stg_production_starts",
		Key:   "source_event_id",
		Columns: []Column{
			required("job_id", UUID),
			col("product_id", Text),
			col("status", Text),
			eventTime("event_timestamp"),
		},
	}
}

func productionCompletionKind() Kind {
	return Kind{
		Tag:   "ProductionCompletion",
		Table: "stg_production_completions",
		Key:   "source_event_id",
		Columns: []Column{
			required("job_id", UUID),
			col("product_id", Text),
			col("status", Text),
			col("qty_produced", Int),
			col("new_qty_on_hand", Int),
			eventTime("event_timestamp"),
		},
	}
}

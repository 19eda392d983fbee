package status

func WorkersSpawned(d *OnDemand) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.spawned
}

func StoredText(d *OnDemand) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text
}

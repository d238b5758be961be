package workload

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/apostoltudor/bdnsv/internal/backend"
)

// Fixture sizes of the shop dataset the backends are loaded with.
const (
	NumUsers    = 100
	NumProducts = 500
)

var cities = []string{
	"Bucharest", "Cluj-Napoca", "Iasi", "Timisoara", "Constanta",
	"Brasov", "Craiova", "Galati", "Oradea", "Sibiu",
}

var firstNames = []string{"Ana", "Mihai", "Elena", "Andrei", "Ioana", "Radu", "Maria", "Vlad", "Irina", "Dan"}
var lastNames = []string{"Popescu", "Ionescu", "Dumitru", "Stan", "Gheorghe", "Rusu", "Matei", "Marin", "Tudor", "Dobre"}

var productWords = []string{
	"Office", "Laptop", "Chair", "Lamp", "Desk", "Phone", "Watch", "Jacket",
	"Kettle", "Novel", "Monitor", "Speaker", "Backpack", "Blender", "Cable",
}

var orderNamespace = uuid.MustParse("6f1c1f8e-2b1d-4d38-9a8e-5b8f0e6d4c21")

type user struct {
	id   int64
	name string
	city string
}

// userFor derives a stable identity for a fixture user id so every batch
// agrees with the loaded users table.
func userFor(id int64) user {
	r := rand.New(rand.NewPCG(uint64(id), 0x5eed))
	return user{
		id:   id,
		name: firstNames[r.IntN(len(firstNames))] + " " + lastNames[r.IntN(len(lastNames))],
		city: cities[r.IntN(len(cities))],
	}
}

// GenerateOrders builds n orders from seed. The same seed always yields the
// same batch, including order ids, so repeated trials overwrite rather than
// grow id-keyed stores.
func GenerateOrders(n int, seed uint64, base time.Time) backend.Batch {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	batch := make(backend.Batch, 0, n)

	for i := range n {
		u := userFor(r.Int64N(NumUsers) + 1)

		items := make([]backend.OrderItem, 1+r.IntN(4))
		var total float64
		for j := range items {
			price := math.Round((10+r.Float64()*990)*100) / 100
			items[j] = backend.OrderItem{
				ProductID: r.Int64N(NumProducts) + 1,
				Name:      productWords[r.IntN(len(productWords))] + " " + productWords[r.IntN(len(productWords))],
				Price:     price,
			}
			total += price
		}

		batch = append(batch, backend.Order{
			ID:          uuid.NewSHA1(orderNamespace, fmt.Appendf(nil, "%d/%d", seed, i)).String(),
			UserID:      u.id,
			UserName:    u.name,
			City:        u.city,
			Items:       items,
			TotalAmount: math.Round(total*100) / 100,
			OrderDate:   base.Add(-time.Duration(r.IntN(365*24)) * time.Hour).UTC(),
		})
	}

	return batch
}

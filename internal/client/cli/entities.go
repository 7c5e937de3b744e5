package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/shopkeeper/internal/client/models"
	"github.com/dmitrijs2005/shopkeeper/internal/client/services"
)

// field is one prompted attribute of an entity.
type field struct {
	key       string
	prompt    string
	number    bool
	multiline bool
}

// stampFields are set to the current time on creation when left empty.
var stampFields = map[models.EntityKind]string{
	models.KindService:  "openedAt",
	models.KindDocument: "issuedAt",
}

var kindFields = map[models.EntityKind][]field{
	models.KindCustomer: {
		{key: "name", prompt: "Name"},
		{key: "phone", prompt: "Phone"},
		{key: "email", prompt: "Email"},
		{key: "taxId", prompt: "CPF/CNPJ"},
		{key: "address", prompt: "Address"},
		{key: "comments", prompt: "Comments", multiline: true},
	},
	models.KindDevice: {
		{key: "customerId", prompt: "Customer id"},
		{key: "brand", prompt: "Brand"},
		{key: "model", prompt: "Model"},
		{key: "imei", prompt: "IMEI"},
		{key: "description", prompt: "Description"},
	},
	models.KindService: {
		{key: "deviceId", prompt: "Device id"},
		{key: "description", prompt: "Description"},
		{key: "status", prompt: "Status"},
		{key: "price", prompt: "Price", number: true},
	},
	models.KindDocument: {
		{key: "serviceId", prompt: "Service id"},
		{key: "number", prompt: "Number"},
		{key: "type", prompt: "Type"},
		{key: "total", prompt: "Total", number: true},
	},
}

// row is the printable form of one entity.
type row struct {
	ID      string
	Name    string
	Pending bool
	Fields  map[string]any
}

type listing struct {
	Rows   []row
	Source services.Source
	Stale  bool
}

// entityOps is what the commands need from an EntityService, independent
// of its type parameter.
type entityOps interface {
	list(ctx context.Context, userID string) (listing, error)
	get(ctx context.Context, userID, id string) (row, error)
	save(ctx context.Context, userID string, fields map[string]any) (services.Result, error)
	remove(ctx context.Context, userID, id string) (services.Result, error)
	trash(ctx context.Context, userID, id string) (services.Result, error)
}

type typedOps[T models.Entity] struct {
	svc *services.EntityService[T]
}

func newEntityOps(sync *services.SyncService, trash *services.TrashService) (map[models.EntityKind]entityOps, error) {
	ops := make(map[models.EntityKind]entityOps, 4)
	var err error
	if ops[models.KindCustomer], err = newTyped[models.Customer](sync, trash); err != nil {
		return nil, err
	}
	if ops[models.KindDevice], err = newTyped[models.Device](sync, trash); err != nil {
		return nil, err
	}
	if ops[models.KindService], err = newTyped[models.Service](sync, trash); err != nil {
		return nil, err
	}
	if ops[models.KindDocument], err = newTyped[models.Document](sync, trash); err != nil {
		return nil, err
	}
	return ops, nil
}

func newTyped[T models.Entity](sync *services.SyncService, trash *services.TrashService) (entityOps, error) {
	svc, err := services.NewEntityService[T](sync, trash)
	if err != nil {
		return nil, err
	}
	return typedOps[T]{svc: svc}, nil
}

func toRow[T models.Entity](r models.Record[T]) row {
	b, _ := json.Marshal(r.Value)
	var fields map[string]any
	_ = json.Unmarshal(b, &fields)
	return row{ID: r.Key, Name: models.DisplayName(b), Pending: r.PendingSync, Fields: fields}
}

func (o typedOps[T]) list(ctx context.Context, userID string) (listing, error) {
	res, err := o.svc.List(ctx, userID)
	if err != nil {
		return listing{}, err
	}
	rows := make([]row, 0, len(res.Records))
	for _, r := range res.Records {
		rows = append(rows, toRow(r))
	}
	return listing{Rows: rows, Source: res.Source, Stale: res.Stale}, nil
}

func (o typedOps[T]) get(ctx context.Context, userID, id string) (row, error) {
	r, err := o.svc.Get(ctx, userID, id)
	if err != nil {
		return row{}, err
	}
	return toRow(r), nil
}

func (o typedOps[T]) save(ctx context.Context, userID string, fields map[string]any) (services.Result, error) {
	b, err := json.Marshal(fields)
	if err != nil {
		return services.Result{}, err
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return services.Result{}, fmt.Errorf("invalid input: %w", err)
	}
	return o.svc.Save(ctx, userID, v)
}

func (o typedOps[T]) remove(ctx context.Context, userID, id string) (services.Result, error) {
	return o.svc.Delete(ctx, userID, id)
}

func (o typedOps[T]) trash(ctx context.Context, userID, id string) (services.Result, error) {
	return o.svc.Trash(ctx, userID, id)
}

// promptFields asks for every field of kind, starting from current values.
func (a *App) promptFields(kind models.EntityKind, current map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(current)+len(kindFields[kind]))
	for k, v := range current {
		out[k] = v
	}
	for _, f := range kindFields[kind] {
		cur := ""
		if v, ok := current[f.key]; ok && v != nil {
			cur = fmt.Sprint(v)
		}

		var (
			v   string
			err error
		)
		if f.multiline && cur == "" {
			v, err = getMultiline(a.reader, f.prompt, a.out)
		} else {
			v, err = getField(a.reader, f.prompt, cur, a.out)
		}
		if err != nil {
			return nil, err
		}

		switch {
		case v == "":
			delete(out, f.key)
		case f.number:
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("%s must be a number", f.prompt)
			}
			out[f.key] = n
		default:
			out[f.key] = v
		}
	}
	return out, nil
}

var getField = GetField
var getMultiline = GetMultiline

func (a *App) parseKind(args []string, want int, usage string) (models.EntityKind, bool) {
	if len(args) < want {
		printlnFn("Usage:", usage)
		return "", false
	}
	kind, err := models.ParseKind(args[0])
	if err != nil {
		printlnFn(err.Error())
		return "", false
	}
	if _, ok := a.entities[kind]; !ok {
		printlnFn("Unsupported kind:", args[0])
		return "", false
	}
	return kind, true
}

func printResult(res services.Result) {
	printlnFn(res.Message)
}

// List prints the live entities of one kind.
func (a *App) List(ctx context.Context, args []string) error {
	kind, ok := a.parseKind(args, 1, "list <customer|device|service|document>")
	if !ok {
		return nil
	}
	res, err := a.entities[kind].list(ctx, a.userID())
	if err != nil {
		printlnFn(err.Error())
		return err
	}
	if res.Stale {
		printlnFn("(offline copy, may be out of date)")
	}
	if len(res.Rows) == 0 {
		printlnFn("No entries")
	}
	for _, r := range res.Rows {
		mark := ""
		if r.Pending {
			mark = " *"
		}
		printlnFn(fmt.Sprintf("%s  %s%s", r.ID, r.Name, mark))
	}
	return nil
}

// Show prints every field of one entity.
func (a *App) Show(ctx context.Context, args []string) error {
	kind, ok := a.parseKind(args, 2, "show <kind> <id>")
	if !ok {
		return nil
	}
	r, err := a.entities[kind].get(ctx, a.userID(), args[1])
	if err != nil {
		printlnFn(err.Error())
		return err
	}
	b, _ := json.MarshalIndent(r.Fields, "", "  ")
	printlnFn(string(b))
	if r.Pending {
		printlnFn("(not yet synced)")
	}
	return nil
}

// Add prompts for a new entity and saves it under a fresh id.
func (a *App) Add(ctx context.Context, args []string) error {
	kind, ok := a.parseKind(args, 1, "add <kind>")
	if !ok {
		return nil
	}
	fields, err := a.promptFields(kind, nil)
	if err != nil {
		printlnFn(err.Error())
		return err
	}
	fields["id"] = models.NewKey()
	if stamp, ok := stampFields[kind]; ok {
		fields[stamp] = time.Now().UTC().Format(time.RFC3339)
	}

	res, err := a.entities[kind].save(ctx, a.userID(), fields)
	if err != nil {
		printlnFn(err.Error())
		return err
	}
	printlnFn("Id:", fields["id"])
	printResult(res)
	return nil
}

// Edit prompts for new values of an existing entity.
func (a *App) Edit(ctx context.Context, args []string) error {
	kind, ok := a.parseKind(args, 2, "edit <kind> <id>")
	if !ok {
		return nil
	}
	ops := a.entities[kind]
	r, err := ops.get(ctx, a.userID(), args[1])
	if err != nil {
		printlnFn(err.Error())
		return err
	}
	fields, err := a.promptFields(kind, r.Fields)
	if err != nil {
		printlnFn(err.Error())
		return err
	}
	fields["id"] = r.ID

	res, err := ops.save(ctx, a.userID(), fields)
	if err != nil {
		printlnFn(err.Error())
		return err
	}
	printResult(res)
	return nil
}

// Delete removes an entity without going through the trash.
func (a *App) Delete(ctx context.Context, args []string) error {
	kind, ok := a.parseKind(args, 2, "delete <kind> <id>")
	if !ok {
		return nil
	}
	res, err := a.entities[kind].remove(ctx, a.userID(), args[1])
	if err != nil {
		printlnFn(err.Error())
		return err
	}
	printResult(res)
	return nil
}

// Trash moves an entity to the trash.
func (a *App) Trash(ctx context.Context, args []string) error {
	kind, ok := a.parseKind(args, 2, "trash <kind> <id>")
	if !ok {
		return nil
	}
	res, err := a.entities[kind].trash(ctx, a.userID(), args[1])
	if err != nil {
		printlnFn(err.Error())
		return err
	}
	printResult(res)
	return nil
}
